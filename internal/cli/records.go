package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/export"
	"github.com/spf13/cobra"
)

func listCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored annotated clips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, closeFn, err := app.openRecords(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			summaries, err := session.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeTable(app.Out, summaries)
		},
	}
}

func writeTable(out io.Writer, summaries []entity.RecordSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(out, "no stored clips")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLENGTH\tRESOLUTION\tOBJECTS\tCLASSES\tFRAMES\tSIZE\tCREATED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			s.ID,
			entity.FormatDuration(s.Metadata.DurationSeconds),
			s.Metadata.Resolution,
			s.Metadata.DistinctLabelCount,
			strings.Join(s.Metadata.Labels, ","),
			s.Frames,
			s.ClipSize,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func deleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			session, closeFn, err := app.openRecords(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := session.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "deleted record %d\n", id)
			return nil
		},
	}
}

func exportCommand(app *App) *cobra.Command {
	var (
		outDir string
		asZip  bool
	)

	cmd := &cobra.Command{
		Use:   "export [ID]",
		Short: "Write the detection log and clip of a record, or of all records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, closeFn, err := app.openRecords(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			var records []entity.StoredRecord
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				rec, err := session.Record(cmd.Context(), id)
				if err != nil {
					return err
				}
				records = append(records, *rec)
			} else {
				if records, err = session.Records(cmd.Context()); err != nil {
					return err
				}
			}

			for i := range records {
				var paths []string
				if asZip {
					paths, err = writeBundle(cmd, outDir, &records[i])
				} else {
					paths, err = writeArtifacts(outDir, &records[i])
				}
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(app.Out, p)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().BoolVar(&asZip, "zip", false, "Write a single zip archive per record")
	return cmd
}

// writeArtifacts writes the log and clip of a record into outDir/<id>/.
func writeArtifacts(outDir string, rec *entity.StoredRecord) ([]string, error) {
	dir := filepath.Join(outDir, strconv.FormatInt(rec.ID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	logData, err := export.LogJSON(rec.Log)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(dir, export.LogFileName)
	if err := os.WriteFile(logPath, logData, 0o644); err != nil {
		return nil, fmt.Errorf("write log: %w", err)
	}
	clipPath := filepath.Join(dir, export.ClipFileName)
	if err := os.WriteFile(clipPath, rec.ClipData, 0o644); err != nil {
		return nil, fmt.Errorf("write clip: %w", err)
	}
	return []string{logPath, clipPath}, nil
}

func writeBundle(cmd *cobra.Command, outDir string, rec *entity.StoredRecord) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(outDir, export.BundleFileName(rec.ID))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	if err := export.NewZipBundler().WriteBundle(cmd.Context(), rec, f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close bundle: %w", err)
	}
	return []string{path}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid record id %q", entity.ErrInvalidRequest, s)
	}
	return id, nil
}
