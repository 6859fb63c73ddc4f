// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/resolution"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	dbFile       = "senda.duckdb"
	apiKeyEnvVar = "SENDA_GEMINI_API_KEY"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

type options struct {
	DbPath              string
	LookupURL           string
	UserAgent           string
	AssistantEndpoint   string
	AssistantProject    string
	DisableAssistant    bool
	RequestsPerSecond   float64
	Timeout             time.Duration
	EnableHTTPTrace     bool
	EnableHTTPBodyTrace bool
	Verbose             bool
}

var (
	rootOptions = &options{}
	logger      = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "senda",
	Short: "ubicación de direcciones de comedores y merenderos",
	Long: `
senda convierte direcciones argentinas cargadas a mano en coordenadas,
probando una escalera de consultas cada vez más permisivas y dejando
registro de cada resultado.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		config := zap.NewProductionConfig()
		if rootOptions.Verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		l, err := config.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		logger = l

		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = logger.Sync()
	},
}

var Version = "dev"

func Execute(version string) {
	Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func userAgent() string {
	if rootOptions.UserAgent != "" {
		return rootOptions.UserAgent
	}

	return fmt.Sprintf("senda/%s (+https://github.com/sendasf/senda)", Version)
}

// assistantKey returns the configured assistant key, falling back to
// Application Default Credentials. An empty key disables the assistant.
func assistantKey(ctx context.Context) string {
	if rootOptions.DisableAssistant {
		return ""
	}

	if key := os.Getenv(apiKeyEnvVar); key != "" {
		return key
	}

	log.Printf("%s is not set. Attempting to retrieve via ADC...", apiKeyEnvVar)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	key, err := geocode.AssistantKeyFromADC(ctx, rootOptions.AssistantProject, logger)
	if err != nil {
		log.Printf("⚠️ Failed to retrieve assistant key via ADC, AI normalization disabled: %v", err)

		return ""
	}

	log.Println("✅ Successfully retrieved assistant key via ADC")

	return key
}

func newResolver(ctx context.Context) (*geocode.Resolver, error) {
	cfg := geocode.Config{
		LookupBaseURL:     rootOptions.LookupURL,
		UserAgent:         userAgent(),
		AssistantAPIKey:   assistantKey(ctx),
		AssistantEndpoint: rootOptions.AssistantEndpoint,
		RequestsPerSecond: rootOptions.RequestsPerSecond,
		Timeout:           rootOptions.Timeout,
	}

	if rootOptions.EnableHTTPTrace || rootOptions.EnableHTTPBodyTrace {
		cfg.Trace = os.Stderr
		cfg.TraceBody = rootOptions.EnableHTTPBodyTrace
	}

	return geocode.New(cfg, logger)
}

// openLedger opens (creating it when needed) the resolution ledger.
func openLedger() (*sql.DB, resolution.Repository, error) {
	if err := os.MkdirAll(rootOptions.DbPath, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("duckdb", filepath.Join(rootOptions.DbPath, dbFile))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	repo := resolution.NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, repo, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(
		&rootOptions.DbPath,
		"db-path",
		"db",
		"Directorio base donde almacenar el registro de resoluciones",
	)
	flags.StringVar(
		&rootOptions.LookupURL,
		"lookup-url",
		geocode.DefaultLookupBaseURL,
		"URL base del servicio de geocodificación (Nominatim)",
	)
	flags.StringVar(
		&rootOptions.UserAgent,
		"user-agent",
		"",
		"User-Agent enviado al servicio de geocodificación",
	)
	flags.StringVar(
		&rootOptions.AssistantEndpoint,
		"assistant-endpoint",
		geocode.DefaultAssistantEndpoint,
		"Endpoint generateContent del asistente de normalización",
	)
	flags.StringVar(
		&rootOptions.AssistantProject,
		"assistant-project",
		"",
		"Proyecto de GCP donde buscar la API key del asistente cuando las credenciales no lo indican",
	)
	flags.BoolVar(
		&rootOptions.DisableAssistant,
		"no-assistant",
		false,
		"Deshabilita la normalización asistida por IA",
	)
	flags.Float64Var(
		&rootOptions.RequestsPerSecond,
		"rps",
		1,
		"Máximo de consultas por segundo al servicio de geocodificación (0 sin límite)",
	)
	flags.DurationVar(
		&rootOptions.Timeout,
		"timeout",
		10*time.Second,
		"Timeout de cada consulta HTTP",
	)
	flags.BoolVar(
		&rootOptions.EnableHTTPTrace,
		"trace-http",
		false,
		"Display HTTP requests-responses",
	)
	flags.BoolVar(
		&rootOptions.EnableHTTPBodyTrace,
		"trace-http-body",
		false,
		"Display HTTP requests-responses bodies",
	)
	flags.BoolVarP(
		&rootOptions.Verbose,
		"verbose",
		"v",
		false,
		"Logs de depuración",
	)
}
