package cli

import (
	"fmt"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/bootstrap"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/spf13/cobra"
)

func runCommand(app *App) *cobra.Command {
	var (
		input      string
		resolution string
		fps        int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Annotate a local video and store the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := entity.ParseResolution(resolution)
			if err != nil {
				return err
			}
			if fps < 1 {
				return fmt.Errorf("%w: fps must be positive, got %d", entity.ErrInvalidRequest, fps)
			}

			rt, err := bootstrap.Build(cmd.Context(), app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			record, err := rt.Session.AnnotateAndSave(cmd.Context(), annotator.Request{
				VideoPath:        input,
				Width:            res.Width,
				Height:           res.Height,
				SamplesPerSecond: fps,
				Progress: func(done, total int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\rannotating frame %d/%d", done, total)
				},
			})
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "saved record %d: %d frames, %s, %s, objects: %v\n",
				record.ID,
				len(record.Log),
				entity.FormatDuration(record.Metadata.DurationSeconds),
				record.Metadata.Resolution,
				record.Metadata.Labels,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Path of the video to annotate")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", app.Config.DefaultResolution, "Output resolution: 144, 240, 360, 480, 720 or WIDTHxHEIGHT")
	cmd.Flags().IntVarP(&fps, "fps", "f", app.Config.DefaultFPS, "Samples per second, also the output frame rate")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
