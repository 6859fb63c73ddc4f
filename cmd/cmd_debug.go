// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/textutil"
	"github.com/spf13/cobra"
)

// promptIfTerminal writes prompt to w when f is an interactive terminal.
func promptIfTerminal(f *os.File, w io.Writer, prompt string) {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		fmt.Fprintln(w, prompt)
	}
}

func readLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

// eachLine calls fn for every line of stdin, prompting when it is a terminal.
func eachLine(prompt string, fn func(line string)) error {
	promptIfTerminal(os.Stdin, os.Stderr, prompt)

	return readLines(os.Stdin, fn)
}

func debugAddress(w io.Writer, line string) {
	street, number := textutil.SplitAddress(line)
	fmt.Fprintf(w, "%s\t%q\t%q\n", line, street, geocode.SanitizeNumber(number))
}

func debugCUIT(w io.Writer, line string) {
	if textutil.IsValidCUIT(line) {
		fmt.Fprintf(w, "%s\t%s\n", line, textutil.FormatCUIT(line))
	} else {
		fmt.Fprintf(w, "%s\t%q\n", line, "CUIT inválido")
	}
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Separa calle y altura tal como lo hace la resolución",
	Long: `Lee una dirección por línea, e imprime en stdout la dirección seguida de la
calle y la altura inferidas.

$ echo "San Martín 2345" | senda debug address
San Martín 2345	"San Martín"	"2345"
	`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return eachLine("Ingrese direcciones a analizar, una por línea…", func(line string) {
			debugAddress(cmd.OutOrStdout(), line)
		})
	},
}

var debugCUITCmd = &cobra.Command{
	Use:   "cuit",
	Short: "Valida y formatea CUITs",
	Long: `Lee un CUIT por línea, e imprime en stdout el CUIT seguido de su forma
normalizada.

$ echo 20123456789 | senda debug cuit
20123456789	20-12345678-9
	`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return eachLine("Ingrese CUITs a validar, uno por línea…", func(line string) {
			debugCUIT(cmd.OutOrStdout(), line)
		})
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugAddressCmd)
	debugCmd.AddCommand(debugCUITCmd)
}
