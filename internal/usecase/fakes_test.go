package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

type fakeAnnotator struct {
	result  *annotator.Result
	err     error
	started chan struct{}
	release chan struct{}
	lastReq annotator.Request
	calls   int
}

func (a *fakeAnnotator) Annotate(ctx context.Context, req annotator.Request) (*annotator.Result, error) {
	a.lastReq = req
	a.calls++
	if a.started != nil {
		close(a.started)
	}
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.result, a.err
}

func sampleResult() *annotator.Result {
	return &annotator.Result{
		Clip: []byte("webm-bytes"),
		Log: []entity.DetectionLogEntry{
			{FrameIndex: 0, TimestampSeconds: 0, Detections: []entity.Detection{
				{Label: "person", Box: entity.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.9},
			}},
			{FrameIndex: 1, TimestampSeconds: 0.1, Detections: []entity.Detection{}},
		},
		Metadata: entity.ClipMetadata{
			DurationSeconds:    0.2,
			Resolution:         "256x144",
			DistinctLabelCount: 1,
			Labels:             []string{"person"},
		},
	}
}

type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	records []entity.StoredRecord
	saveErr error
	readErr error
}

func (r *memRepo) Save(_ context.Context, clip []byte, log []entity.DetectionLogEntry, meta entity.ClipMetadata) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return 0, r.saveErr
	}
	r.nextID++
	r.records = append(r.records, entity.StoredRecord{ID: r.nextID, ClipData: clip, Log: log, Metadata: meta, CreatedAt: time.Now()})
	return r.nextID, nil
}

func (r *memRepo) LoadAll(context.Context) ([]entity.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	return append([]entity.StoredRecord{}, r.records...), nil
}

func (r *memRepo) LoadSummaries(ctx context.Context) ([]entity.RecordSummary, error) {
	all, err := r.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.RecordSummary, 0, len(all))
	for _, rec := range all {
		out = append(out, rec.Summary())
	}
	return out, nil
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*entity.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", entity.ErrRecordNotFound, id)
}

func (r *memRepo) DeleteByID(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memRepo) Close() error { return nil }

type uploaded struct {
	key         string
	data        []byte
	contentType string
}

type fakeStorage struct {
	downloadErr error
	uploadErr   error
	downloads   []string
	uploads     []uploaded
}

func (s *fakeStorage) DownloadVideo(_ context.Context, objectKey string, destPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.downloads = append(s.downloads, objectKey)
	return os.WriteFile(destPath, []byte("fake video"), 0o644)
}

func (s *fakeStorage) UploadArtifact(_ context.Context, objectKey string, reader io.Reader, _ int64, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.uploads = append(s.uploads, uploaded{key: objectKey, data: data, contentType: contentType})
	return nil
}

type fakePublisher struct {
	messages [][]byte
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	p.messages = append(p.messages, msg)
	return nil
}

type dlqMessage struct {
	body   []byte
	reason string
}

type fakeDLQ struct {
	messages []dlqMessage
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, msg []byte, reason string) error {
	d.messages = append(d.messages, dlqMessage{body: msg, reason: reason})
	return nil
}

type notification struct {
	to, runID, videoKey, errMsg string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, userEmail, runID, videoKey, errorMsg string) error {
	n.sent = append(n.sent, notification{userEmail, runID, videoKey, errorMsg})
	return nil
}
