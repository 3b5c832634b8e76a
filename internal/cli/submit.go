package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"path/filepath"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/minio"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func submitCommand(app *App) *cobra.Command {
	var (
		input      string
		resolution string
		fps        int
		userID     string
		email      string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a video and queue it for the annotation worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config
			msg, err := newRequest(input, resolution, fps, userID, email)
			if err != nil {
				return err
			}

			storage, err := minio.NewStorage(minio.StorageConfig{
				Endpoint:      cfg.MinIOEndpoint,
				AccessKey:     cfg.MinIOAccessKey,
				SecretKey:     cfg.MinIOSecretKey,
				UseSSL:        cfg.MinIOUseSSL,
				UploadBucket:  cfg.MinIOUploadBucket,
				ExportsBucket: cfg.MinIOExportsBucket,
			})
			if err != nil {
				return err
			}
			if err := storage.EnsureBuckets(cmd.Context()); err != nil {
				return err
			}
			if err := storage.UploadVideo(cmd.Context(), msg.VideoKey, input, videoContentType(input)); err != nil {
				return err
			}

			conn, err := amqp.Dial(cfg.RabbitMQURL)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer conn.Close()

			err = rabbitmq.DeclareTopology(conn, rabbitmq.ConsumerConfig{
				Queue:       cfg.RabbitMQRequestQueue,
				Exchange:    cfg.RabbitMQExchange,
				DLQ:         cfg.RabbitMQDLQ,
				StatusQueue: cfg.RabbitMQStatusQueue,
			})
			if err != nil {
				return err
			}

			pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQExchange)
			if err != nil {
				return err
			}
			defer pub.Close()

			body, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			if err := rabbitmq.NewRequestPublisher(pub).PublishRequest(cmd.Context(), body); err != nil {
				return fmt.Errorf("publish request: %w", err)
			}

			app.Logger.Info("annotation request queued",
				zap.String("run_id", msg.RunID.String()),
				zap.String("video_key", msg.VideoKey),
			)
			fmt.Fprintln(app.Out, msg.RunID.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Path of the video to annotate")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", app.Config.DefaultResolution, "Output resolution")
	cmd.Flags().IntVarP(&fps, "fps", "f", app.Config.DefaultFPS, "Samples per second")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id recorded with the request")
	cmd.Flags().StringVar(&email, "email", "", "Address notified if the run fails")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// newRequest validates the submission and builds the queue message; the
// uploaded object lives under <user>/<run id><ext>.
func newRequest(input, resolution string, fps int, userID, email string) (entity.AnnotationRequestMessage, error) {
	if _, err := entity.ParseResolution(resolution); err != nil {
		return entity.AnnotationRequestMessage{}, err
	}
	if fps < 1 {
		return entity.AnnotationRequestMessage{}, fmt.Errorf("%w: fps must be positive, got %d", entity.ErrInvalidRequest, fps)
	}

	runID := uuid.New()
	return entity.AnnotationRequestMessage{
		RunID:            runID,
		UserID:           userID,
		VideoKey:         path.Join(userID, runID.String()+filepath.Ext(input)),
		Resolution:       resolution,
		SamplesPerSecond: fps,
		UserEmail:        email,
	}, nil
}

func videoContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
