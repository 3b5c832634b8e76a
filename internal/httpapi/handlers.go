package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/export"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) createAnnotation(c echo.Context) error {
	res := s.cfg.DefaultResolution
	if v := c.FormValue("resolution"); v != "" {
		parsed, err := entity.ParseResolution(v)
		if err != nil {
			return errorJSON(c, err)
		}
		res = parsed
	}

	fps := s.cfg.DefaultFPS
	if v := c.FormValue("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return errorJSON(c, fmt.Errorf("%w: fps must be a positive integer, got %q", entity.ErrInvalidRequest, v))
		}
		fps = n
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fmt.Errorf("%w: missing video file: %v", entity.ErrInvalidRequest, err))
	}

	videoPath, err := s.saveUpload(fh)
	if err != nil {
		s.logger.Error("storing upload failed", zap.Error(err))
		return errorJSON(c, err)
	}
	defer os.Remove(videoPath)

	record, err := s.annotations.AnnotateAndSave(c.Request().Context(), annotator.Request{
		VideoPath:        videoPath,
		Width:            res.Width,
		Height:           res.Height,
		SamplesPerSecond: fps,
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, record.Summary())
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if s.cfg.TempDir != "" {
		if err := os.MkdirAll(s.cfg.TempDir, 0o755); err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
	}
	dst, err := os.CreateTemp(s.cfg.TempDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return dst.Name(), nil
}

func (s *Server) listAnnotations(c echo.Context) error {
	summaries, err := s.annotations.List(c.Request().Context())
	if err != nil {
		s.logger.Error("listing records failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, listResponse{
			Records: []entity.RecordSummary{},
			Error:   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, listResponse{Records: summaries})
}

func (s *Server) loadRecord(c echo.Context) (*entity.StoredRecord, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid record id %q", entity.ErrInvalidRequest, c.Param("id"))
	}
	return s.annotations.Record(c.Request().Context(), id)
}

func (s *Server) downloadLog(c echo.Context) error {
	record, err := s.loadRecord(c)
	if err != nil {
		return errorJSON(c, err)
	}
	data, err := export.LogJSON(record.Log)
	if err != nil {
		return errorJSON(c, err)
	}
	setDisposition(c, "attachment", export.LogFileName)
	return c.Blob(http.StatusOK, export.LogMediaType, data)
}

func (s *Server) downloadVideo(c echo.Context) error {
	record, err := s.loadRecord(c)
	if err != nil {
		return errorJSON(c, err)
	}
	setDisposition(c, "attachment", export.ClipFileName)
	return c.Blob(http.StatusOK, s.cfg.ClipContentType, record.ClipData)
}

func (s *Server) previewVideo(c echo.Context) error {
	record, err := s.loadRecord(c)
	if err != nil {
		return errorJSON(c, err)
	}
	setDisposition(c, "inline", export.ClipFileName)
	return c.Blob(http.StatusOK, s.cfg.ClipContentType, record.ClipData)
}

func (s *Server) exportBundle(c echo.Context) error {
	record, err := s.loadRecord(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var buf bytes.Buffer
	if err := s.bundler.WriteBundle(c.Request().Context(), record, &buf); err != nil {
		s.logger.Error("building export bundle failed", zap.Int64("record_id", record.ID), zap.Error(err))
		return errorJSON(c, err)
	}
	setDisposition(c, "attachment", export.BundleFileName(record.ID))
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

func (s *Server) deleteAnnotation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errorJSON(c, fmt.Errorf("%w: invalid record id %q", entity.ErrInvalidRequest, c.Param("id")))
	}
	if err := s.annotations.Delete(c.Request().Context(), id); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func setDisposition(c echo.Context, kind, filename string) {
	value := mime.FormatMediaType(kind, map[string]string{"filename": strings.TrimSpace(filename)})
	c.Response().Header().Set(echo.HeaderContentDisposition, value)
}
