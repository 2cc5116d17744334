package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/config"
	"github.com/calebh/docscope/internal/tui"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath    string
		endpoint   string
		logFile    string
		oversample int
		noAlt      bool
	)
	cmd := &cobra.Command{
		Use:   "docscope <document>",
		Short: "Terminal document viewer with evidence-linked Q&A",
		Long: "docscope opens a paginated document in a scrollable, zoomable viewport\n" +
			"and overlays evidence highlights streamed from a question-answering\n" +
			"service. The document argument is a local path or an HTTP(S) URL.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.AnswerEndpoint = endpoint
			}
			if logFile != "" {
				cfg.LogFile = logFile
			}
			if oversample > 0 {
				cfg.Oversample = oversample
			}
			log, err := newLogger(cfg.LogFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			client := answer.NewClient(cfg.AnswerEndpoint, nil, log)
			model := tui.New(tui.Config{
				Target:     args[0],
				Client:     client,
				CacheDir:   cfg.CacheDir,
				Oversample: cfg.Oversample,
				Log:        log,
			})

			opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
			if !noAlt {
				opts = append(opts, tea.WithAltScreen())
			}
			_, err = tea.NewProgram(model, opts...).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", config.DefaultPath(), "path to the config file")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "answer service base URL (overrides config)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write structured logs to this file")
	cmd.Flags().IntVar(&oversample, "oversample", 0, "text raster density factor, minimum 2")
	cmd.Flags().BoolVar(&noAlt, "no-alt-screen", false, "disable the alternate screen buffer")
	return cmd
}

// newLogger builds a file-backed logger; the terminal belongs to the UI,
// so without a log file everything is discarded.
func newLogger(path string) (*zap.Logger, error) {
	if path == "" {
		return zap.NewNop(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}
