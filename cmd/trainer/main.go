package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mathtrainer/internal/config"
	"github.com/pavelanni/mathtrainer/internal/grading"
	"github.com/pavelanni/mathtrainer/internal/handler"
	appI18n "github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/importer"
	"github.com/pavelanni/mathtrainer/internal/llm"
	"github.com/pavelanni/mathtrainer/internal/llm/prompts"
	"github.com/pavelanni/mathtrainer/internal/metrics"
	"github.com/pavelanni/mathtrainer/internal/progress"
	"github.com/pavelanni/mathtrainer/internal/selector"
	"github.com/pavelanni/mathtrainer/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trainer",
		Short: "Math exercise trainer with automatic grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `trainer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "trainer.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.StringSliceP("questions", "q", nil, "Question bundle JSON files to import at startup (repeatable)")
	f.IntP("recs-k", "k", 5, "Default number of questions returned by /questions/next")
	f.Float64("threshold", grading.DefaultThreshold, "Minimum score counted as correct")
	f.StringP("lang", "l", "en", "Default feedback language (en, es)")
	f.Bool("llm-enabled", false, "Grade with the LLM, falling back to the baseline on failure")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.1:8b", "LLM model name")
	f.Duration("llm-timeout", 20*time.Second, "Maximum time to wait for an LLM grade")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exams and questions from JSON bundle files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export user summaries and attempt histories as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Float64("threshold", grading.DefaultThreshold, "Threshold recorded in the export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags, environment and config file to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	_ = v.BindPFlags(cmd.Flags())
	config.BindEnv(v)
	config.ReadFile(v)
	setupLogging(v)
	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Questions) > 0 {
		if _, err := importer.New(db).ImportFiles(ctx, cfg.Questions); err != nil {
			return fmt.Errorf("load questions: %w", err)
		}
	}
	n, err := db.QuestionCount(ctx)
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if n == 0 {
		slog.Warn("question bank is empty, import a bundle with `trainer import`")
	}
	users, err := db.UserCount(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	slog.Info("database ready", "path", cfg.DB, "questions", n, "users", users)

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	slog.Info("feedback languages", "default", cfg.Lang, "available", appI18n.Languages())

	m := metrics.New(prometheus.DefaultRegisterer, cfg.LLMModel)
	strategy, err := buildStrategy(ctx, cfg, m)
	if err != nil {
		return err
	}

	h := handler.New(db,
		selector.New(db),
		grading.New(db, strategy, cfg.Threshold, m),
		progress.New(db),
		handler.Info{
			Model:      cfg.GraderModel(),
			DB:         cfg.DB,
			LLMEnabled: cfg.LLMEnabled,
			Threshold:  cfg.Threshold,
			RecsK:      cfg.RecsK,
		},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.NewRouter(h, cfg.Lang, m, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server", "config", cfg, "grader", strategy.Name())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LLMTimeout+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// buildStrategy returns the baseline, or the LLM delegate backed by the baseline.
func buildStrategy(ctx context.Context, cfg config.Config, m *metrics.Metrics) (grading.Strategy, error) {
	baseline := grading.Instrument(grading.NewBaseline(), m)
	if !cfg.LLMEnabled {
		return baseline, nil
	}

	client, err := llm.New(cfg.LLMURL, cfg.LLMKey, cfg.LLMModel, prompts.PromptVariant(cfg.PromptVariant))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		slog.Warn("LLM health check failed, baseline will grade until it recovers",
			"url", cfg.LLMURL, "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", cfg.LLMURL, "model", client.Model())
	}

	return grading.Fallback{
		Primary:   grading.Instrument(grading.NewDelegate(client, cfg.LLMTimeout), m),
		Secondary: baseline,
		Recorder:  m,
	}, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := importer.New(db).ImportFiles(cmd.Context(), args)
	for _, r := range results {
		status := "imported"
		if r.Skipped {
			status = "unchanged"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\texams=%d\tquestions=%d\n", r.Path, status, r.Exams, r.Questions)
	}
	return err
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := progress.Export(cmd.Context(), db, v.GetFloat64("threshold"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
