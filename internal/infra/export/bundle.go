// Package export renders stored records as downloadable artifacts.
package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

const (
	LogFileName  = "coco-ssd-log.json"
	ClipFileName = "annotated-video.webm"
	LogMediaType = "application/json"
)

// BundleFileName names the zip archive holding both artifacts of a record.
func BundleFileName(id int64) string {
	return fmt.Sprintf("annotation-%d.zip", id)
}

// LogJSON renders a record's detection log as an indented JSON document.
func LogJSON(log []entity.DetectionLogEntry) ([]byte, error) {
	if log == nil {
		log = []entity.DetectionLogEntry{}
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	return data, nil
}

type ZipBundler struct{}

func NewZipBundler() *ZipBundler {
	return &ZipBundler{}
}

// WriteBundle writes a zip holding the record's log and clip to w.
func (z *ZipBundler) WriteBundle(ctx context.Context, record *entity.StoredRecord, w io.Writer) error {
	logData, err := LogJSON(record.Log)
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(w)
	entries := []struct {
		name string
		data []byte
	}{
		{LogFileName, logData},
		{ClipFileName, record.ClipData},
	}

	for _, e := range entries {
		select {
		case <-ctx.Done():
			zipWriter.Close()
			return ctx.Err()
		default:
		}

		if err := addEntry(zipWriter, e.name, e.data, record.CreatedAt); err != nil {
			zipWriter.Close()
			return fmt.Errorf("add %s to zip: %w", e.name, err)
		}
	}

	return zipWriter.Close()
}

func addEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	}
	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}
