// Package cli implements the annotator command line.
package cli

import (
	"context"
	"io"

	"github.com/fiapx/fiapx-annotation-service/internal/bootstrap"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/config"
	"github.com/fiapx/fiapx-annotation-service/internal/usecase"
	"github.com/fiapx/fiapx-annotation-service/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// App carries what every command needs. Fields are filled by the root
// command's pre-run hook.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Out    io.Writer
}

// RootCommand builds the command tree around cfg. Persistent flags override
// the environment values they name.
func RootCommand(cfg *config.Config) *cobra.Command {
	app := &App{Config: cfg}

	rootCmd := &cobra.Command{
		Use:           "annotator",
		Short:         "Annotate videos with object detections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flags.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Record store backend: sqlite, postgres")
	flags.StringVar(&cfg.StorePath, "db", cfg.StorePath, "Path of the SQLite database file")
	flags.StringVar(&cfg.DetectorBackend, "detector", cfg.DetectorBackend, "Detector backend: tflite, http")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if app.Logger == nil {
			log, err := logger.NewConsole(cfg.LogLevel)
			if err != nil {
				return err
			}
			app.Logger = log
		}
		app.Out = cmd.OutOrStdout()
		return nil
	}

	rootCmd.AddCommand(
		runCommand(app),
		listCommand(app),
		deleteCommand(app),
		exportCommand(app),
		serveCommand(app),
		submitCommand(app),
	)
	return rootCmd
}

// openRecords opens a session that can only manage stored records; it does
// not load the detector.
func (a *App) openRecords(ctx context.Context) (*usecase.Session, func(), error) {
	repo, closeRepo, err := bootstrap.OpenRepository(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return usecase.NewSession(nil, repo, a.Logger), closeRepo, nil
}
