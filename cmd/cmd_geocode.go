// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/resolution"
	"github.com/sendasf/senda/textutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const resolutionsFile = "resolutions.json"

// Resolver is the subset of *geocode.Resolver the commands need.
type Resolver interface {
	Resolve(ctx context.Context, q geocode.AddressQuery) (*geocode.Match, error)
}

// batchItem is one entry of a batch file. Address, when set and Street is
// empty, holds the whole street line ("San Martín 2345").
type batchItem struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Reference  string `json:"reference"`
}

func (b batchItem) query() geocode.AddressQuery {
	if b.Street == "" && b.Address != "" {
		return geocode.FromStreetLine(b.Address, b.City, b.Province, b.PostalCode)
	}

	return geocode.AddressQuery{
		Street:     b.Street,
		Number:     b.Number,
		City:       b.City,
		Province:   b.Province,
		PostalCode: b.PostalCode,
	}
}

func readBatch(r io.Reader) ([]batchItem, error) {
	var items []batchItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}

	for i, it := range items {
		if strings.TrimSpace(it.City) == "" || strings.TrimSpace(it.Province) == "" {
			return nil, fmt.Errorf("item %d: city and province are required", i)
		}
	}

	return items, nil
}

// runBatch resolves items with at most workers concurrent resolutions and
// returns one record per item, in input order. progress is called after
// each item.
func runBatch(ctx context.Context, resolver Resolver, items []batchItem, workers int, progress func()) ([]*resolution.Record, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	records := make([]*resolution.Record, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex

	for i, it := range items {
		g.Go(func() error {
			q := it.query()

			m, err := resolver.Resolve(ctx, q)
			if err != nil {
				return fmt.Errorf("resolving %q: %w", q.String(), err)
			}

			records[i] = resolution.NewRecord(q, it.Reference, m)

			if progress != nil {
				mu.Lock()
				progress()
				mu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolución de direcciones a coordenadas",
}

var resolveOptions struct {
	geocode.AddressQuery
	Address   string
	Reference string
	Save      bool
}

var geocodeResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resuelve una dirección e imprime el resultado",
	Long: `Resuelve una dirección probando la escalera de estrategias e imprime el
resultado en JSON.

$ senda geocode resolve --address "San Martín 2345" --city "Santa Fe" --province "Santa Fe"
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := resolveOptions.AddressQuery
		if q.Street == "" && resolveOptions.Address != "" {
			q = geocode.FromStreetLine(resolveOptions.Address, q.City, q.Province, q.PostalCode)
		}

		if strings.TrimSpace(q.City) == "" || strings.TrimSpace(q.Province) == "" {
			return errors.New("--city and --province are required")
		}

		resolver, err := newResolver(cmd.Context())
		if err != nil {
			return err
		}

		m, err := resolver.Resolve(cmd.Context(), q)
		if err != nil {
			return err
		}

		rec := resolution.NewRecord(q, resolveOptions.Reference, m)

		if resolveOptions.Save {
			db, repo, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Save(rec); err != nil {
				return fmt.Errorf("saving resolution: %w", err)
			}
		}

		if m == nil {
			log.Printf("⚠️ No se pudo ubicar %q", q.String())
		}

		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var batchOptions struct {
	Workers int
	DryRun  bool
}

var geocodeBatchCmd = &cobra.Command{
	Use:   "batch <file.json>",
	Short: "Resuelve un lote de direcciones y las registra",
	Long: `Lee un arreglo JSON de direcciones ({street, number, address, city,
province, postal_code, reference}) y las resuelve en paralelo, respetando el
límite de consultas por segundo. Los resultados quedan en el registro local.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening batch file: %w", err)
		}
		defer f.Close()

		items, err := readBatch(f)
		if err != nil {
			return err
		}

		resolver, err := newResolver(cmd.Context())
		if err != nil {
			return err
		}

		var progress func()

		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar := progressbar.NewOptions(len(items),
				progressbar.OptionSetDescription("Resolving "+args[0]),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			progress = func() { _ = bar.Add(1) }
		}

		records, err := runBatch(cmd.Context(), resolver, items, batchOptions.Workers, progress)
		if err != nil {
			return err
		}

		found := 0

		for _, rec := range records {
			if rec.Found {
				found++
			} else {
				log.Printf("⚠️ No se pudo ubicar %q", rec.Address.String())
			}
		}

		log.Printf("📍 %s de %s direcciones ubicadas", textutil.FormatInt(int64(found)), textutil.FormatInt(int64(len(records))))

		if batchOptions.DryRun {
			return nil
		}

		db, repo, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.BulkInsert(records); err != nil {
			return fmt.Errorf("saving resolutions: %w", err)
		}

		return nil
	},
}

var historyOptions struct {
	Limit  int
	Offset int
	Query  string
}

var geocodeHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Lista las resoluciones registradas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, repo, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		var records []*resolution.Record
		if historyOptions.Query != "" {
			records, err = repo.Search(historyOptions.Query, historyOptions.Limit)
		} else {
			records, err = repo.List(historyOptions.Limit, historyOptions.Offset)
		}

		if err != nil {
			return fmt.Errorf("listing resolutions: %w", err)
		}

		w := cmd.OutOrStdout()
		for _, rec := range records {
			status, where := "✗", "-"
			if rec.Found {
				status, where = "✓", fmt.Sprintf("%.6f,%.6f", rec.Point.Lat, rec.Point.Lng)
			}

			fmt.Fprintf(w, "%s %-14s %-24s %s\n", status, rec.Strategy, where, rec.Address.String())
		}

		stats, err := repo.Stats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Fprintf(w, "\n%s registradas, %s ubicadas, %s sin ubicar\n",
			textutil.FormatInt(int64(stats.Total)), textutil.FormatInt(int64(stats.Found)), textutil.FormatInt(int64(stats.NotFound)))

		return nil
	},
}

var exportOptions struct {
	Output string
}

var geocodeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exporta el registro de resoluciones a un archivo",
	Long: `Exporta todas las resoluciones a un archivo JSON. El archivo se ordena para
minimizar las diferencias al versionarlo.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		db, repo, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := repo.GetAllSorted()
		if err != nil {
			return fmt.Errorf("getting resolutions: %w", err)
		}

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling resolutions: %w", err)
		}

		if err := os.WriteFile(exportOptions.Output, data, 0o600); err != nil {
			return fmt.Errorf("writing resolutions file: %w", err)
		}

		log.Printf("✅ %s resoluciones exportadas a %s", textutil.FormatInt(int64(len(records))), exportOptions.Output)

		return nil
	},
}

var geocodeImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Importa resoluciones exportadas previamente",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading resolutions file: %w", err)
		}

		var records []*resolution.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("unmarshaling resolutions: %w", err)
		}

		db, repo, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.BulkInsert(records); err != nil {
			return fmt.Errorf("importing resolutions: %w", err)
		}

		log.Printf("✅ %s resoluciones importadas", textutil.FormatInt(int64(len(records))))

		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
	geocodeCmd.AddCommand(geocodeResolveCmd)
	geocodeCmd.AddCommand(geocodeBatchCmd)
	geocodeCmd.AddCommand(geocodeHistoryCmd)
	geocodeCmd.AddCommand(geocodeExportCmd)
	geocodeCmd.AddCommand(geocodeImportCmd)

	f := geocodeResolveCmd.Flags()
	f.StringVar(&resolveOptions.Street, "street", "", "Calle")
	f.StringVar(&resolveOptions.Number, "number", "", "Altura")
	f.StringVar(&resolveOptions.Address, "address", "", "Calle y altura en una sola línea")
	f.StringVar(&resolveOptions.City, "city", "", "Ciudad")
	f.StringVar(&resolveOptions.Province, "province", "", "Provincia")
	f.StringVar(&resolveOptions.PostalCode, "postal-code", "", "Código postal")
	f.StringVar(&resolveOptions.Reference, "reference", "", "Nombre de referencia del lugar")
	f.BoolVar(&resolveOptions.Save, "save", false, "Registra el resultado")

	geocodeBatchCmd.Flags().IntVar(
		&batchOptions.Workers,
		"workers",
		4,
		"Máximo de direcciones resueltas en paralelo. 0 usa la cantidad de CPUs",
	)
	geocodeBatchCmd.Flags().BoolVar(
		&batchOptions.DryRun,
		"dry-run",
		false,
		"No persiste ningún resultado",
	)

	geocodeHistoryCmd.Flags().IntVar(&historyOptions.Limit, "limit", 50, "Máximo de resoluciones a listar")
	geocodeHistoryCmd.Flags().IntVar(&historyOptions.Offset, "offset", 0, "Resoluciones a saltear")
	geocodeHistoryCmd.Flags().StringVarP(&historyOptions.Query, "query", "q", "", "Filtra por dirección o referencia")

	geocodeExportCmd.Flags().StringVarP(&exportOptions.Output, "output", "o", resolutionsFile, "Archivo de salida")
}
