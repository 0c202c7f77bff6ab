package enrich

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
)

// BlobWriter uploads one object and returns its URI.
type BlobWriter interface {
	PutObject(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

// GCSBlobWriter writes objects to a Google Cloud Storage bucket.
type GCSBlobWriter struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobWriter creates a GCS-backed blob writer.
func NewGCSBlobWriter(client *storage.Client, bucket string) (*GCSBlobWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSBlobWriter{client: client, bucket: bucket}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (w *GCSBlobWriter) PutObject(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("object path is required")
	}
	writer := w.client.Bucket(w.bucket).Object(objectPath).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, objectPath), nil
}

// Archiver stores the raw content of each completed crawl in blob storage,
// keyed by content hash so identical pages share one object.
type Archiver struct {
	blobs  BlobWriter
	prefix string
	logger *zap.Logger
}

// NewArchiver builds an Archiver writing under the given object prefix.
func NewArchiver(blobs BlobWriter, prefix string, logger *zap.Logger) *Archiver {
	return &Archiver{blobs: blobs, prefix: prefix, logger: logger}
}

// Name identifies this collaborator in logs and metrics.
func (a *Archiver) Name() string { return "archive" }

// Enrich uploads the crawl content.
func (a *Archiver) Enrich(ctx context.Context, job crawler.Job, result crawler.CrawlResult) error {
	if result.ContentHash == "" {
		return fmt.Errorf("content hash is required for archiving")
	}
	objectPath := path.Join(a.prefix, result.ContentHash+".txt")
	uri, err := a.blobs.PutObject(ctx, objectPath, "text/plain; charset=utf-8", strings.NewReader(result.Content))
	if err != nil {
		return fmt.Errorf("archive content: %w", err)
	}
	a.logger.Debug("content archived",
		zap.String("job_id", job.ID),
		zap.String("uri", uri),
	)
	return nil
}
