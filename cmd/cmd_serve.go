// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/sendasf/senda/server"
	"github.com/spf13/cobra"
)

var serveOptions struct {
	Addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expone la resolución de direcciones y el registro por HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, repo, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		resolver, err := newResolver(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("🗺️  Geocoding API server starting...")
		fmt.Printf("📍 POST http://%s/api/geocode\n", serveOptions.Addr)

		return server.NewServer(resolver, repo, logger).Run(serveOptions.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveOptions.Addr, "addr", "localhost:8080", "Dirección donde escuchar")
}
