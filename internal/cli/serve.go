package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/bootstrap"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/httpapi"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/export"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(app *App) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the annotation REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config
			res, err := entity.ParseResolution(cfg.DefaultResolution)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, err := tracing.Setup(ctx, tracing.Options{
				Endpoint:    cfg.JaegerEndpoint,
				ServiceName: "fiapx-annotation-api",
				SampleRatio: cfg.TracingSampleRatio,
			})
			if err != nil {
				app.Logger.Warn("tracing init failed, continuing without tracing", zap.Error(err))
			} else {
				defer tp.Shutdown(context.Background())
			}

			rt, err := bootstrap.Build(ctx, cfg, app.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := httpapi.NewServer(rt.Session, export.NewZipBundler(), httpapi.Config{
				DefaultResolution: res,
				DefaultFPS:        cfg.DefaultFPS,
				MaxUploadMB:       cfg.MaxUploadMB,
				TempDir:           cfg.TempDir,
				ClipContentType:   rt.Encoder.ContentType(),
			}, app.Logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(fmt.Sprintf(":%d", port))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			app.Logger.Info("shutting down http api")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.Logger.Warn("http api shutdown", zap.Error(err))
			}
			return <-errCh
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", app.Config.HTTPPort, "HTTP listen port")
	return cmd
}
