package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rag/internal/api"
	"rag/internal/config"
	"rag/internal/domain"
	"rag/internal/index"
	"rag/internal/logger"
	"rag/internal/tui"
)

const (
	pingTimeout = 15 * time.Second
	logFileName = "rag.log"
)

// configKey stores the loaded configuration on the command context.
type configKey struct{}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rag",
		Short:         "Answer questions about your documents, one category at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		RunE: runServe,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file (defaults to ./config.yaml or ~/.config/rag/config.yaml)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	addServeFlags(root)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Index every category, then start the terminal UI or the HTTP API",
		RunE:  runServe,
	}
	addServeFlags(serve)

	indexCmd := &cobra.Command{
		Use:   "index [category-key...]",
		Short: "Build missing category indexes, or rebuild them with --force",
		RunE:  runIndex,
	}
	indexCmd.Flags().Bool("force", false, "Rebuild even when a complete index exists")

	root.AddCommand(
		serve,
		indexCmd,
		&cobra.Command{
			Use:   "ask <category> <question...>",
			Short: "Answer one question and exit",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runAsk,
		},
		&cobra.Command{
			Use:   "categories",
			Short: "List category keys and labels",
			Args:  cobra.NoArgs,
			RunE:  runCategories,
		},
	)
	return root
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("http", false, "Serve the HTTP API instead of the terminal UI")
	cmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var cfg *config.AppConfig
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.JSON, nil)
	logger.Debug("Configuration loaded", "path", path)
	return cfg, nil
}

func configFrom(cmd *cobra.Command) *config.AppConfig {
	return cmd.Context().Value(configKey{}).(*config.AppConfig)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// startApp builds the components and checks the providers the command needs.
func startApp(ctx context.Context, cfg *config.AppConfig, needGenerator bool) (*app, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := a.ping(pingCtx, needGenerator); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := configFrom(cmd)
	useHTTP, _ := cmd.Flags().GetBool("http")
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if !useHTTP {
		// The terminal UI owns stdout and stderr.
		f, err := openLogFile(cfg.Paths.IndexDir)
		if err != nil {
			return err
		}
		defer f.Close()
		logger.Setup(cfg.Logging.Level, cfg.Logging.JSON, f)
	}

	a, err := startApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()
	a.ensureAll(ctx)

	if useHTTP {
		return api.NewServer(a.assistant, a.manager, a.metrics).Run(ctx, addr)
	}
	p := tea.NewProgram(tui.New(a.assistant, config.Seconds(cfg.Retrieval.TimeoutSecs)), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// openLogFile opens <indexDir>/rag.log for appending, creating the directory on first run.
func openLogFile(indexDir string) (*os.File, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(indexDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	force, _ := cmd.Flags().GetBool("force")
	cats, err := parseKeys(args)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	a, err := startApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var reports []index.Report
	if len(args) == 0 && !force {
		reports = a.ensureAll(ctx)
	} else {
		for _, c := range cats {
			var h *index.Handle
			if force {
				h, err = a.manager.Rebuild(ctx, c)
			} else {
				h, err = a.manager.Ensure(ctx, c)
			}
			r := index.Report{Category: c, Err: err}
			if h != nil {
				r.Stats = h.Stats
			}
			reports = append(reports, r)
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tDOCUMENTS\tSKIPPED\tCHUNKS\tRESULT")
	var failed int
	for _, r := range reports {
		result := "loaded"
		switch {
		case r.Err != nil:
			result = r.Err.Error()
			failed++
		case r.Stats.Built:
			result = "built in " + r.Stats.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", a.labels.Label(r.Category), r.Stats.Documents, r.Stats.Skipped, r.Stats.Chunks, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d categories could not be indexed", failed, len(reports))
	}
	return nil
}

// parseKeys resolves category keys; no keys means every category.
func parseKeys(args []string) ([]domain.Category, error) {
	if len(args) == 0 {
		return domain.Categories(), nil
	}
	cats := make([]domain.Category, 0, len(args))
	for _, k := range args {
		c, err := domain.CategoryFromKey(k)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	ctx, cancel := signalContext(cmd)
	defer cancel()
	a, err := startApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()
	out := a.assistant.Ask(ctx, args[0], strings.Join(args[1:], " "))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runCategories(cmd *cobra.Command, _ []string) error {
	labels, err := configFrom(cmd).Labels()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL")
	for _, c := range domain.Categories() {
		fmt.Fprintf(w, "%s\t%s\n", c.Key(), labels.Label(c))
	}
	return w.Flush()
}
