// Package gcs provides a docstore backend backed by Google Cloud Storage.
// Object generations double as document generations, and conditional writes
// use GCS preconditions.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
)

// Config captures the bucket and key prefix for documents.
type Config struct {
	Bucket string
	Prefix string
}

// Backend reads and writes JSON documents in a bucket.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed document backend.
func New(client *storage.Client, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Kind implements docstore.Backend.
func (b *Backend) Kind() string {
	return "gcs"
}

// ObjectName maps a document name to its object key.
func (b *Backend) ObjectName(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Read implements docstore.Backend.
func (b *Backend) Read(ctx context.Context, name string) ([]byte, int64, error) {
	if strings.TrimSpace(name) == "" {
		return nil, 0, fmt.Errorf("document name is required")
	}
	reader, err := b.client.Bucket(b.bucket).Object(b.ObjectName(name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, docstore.ErrNotFound
		}
		return nil, 0, fmt.Errorf("open object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("read object: %w", err)
	}
	return data, reader.Attrs.Generation, nil
}

// Write implements docstore.Backend. A zero generation requires the object to
// be absent.
func (b *Backend) Write(ctx context.Context, name string, data []byte, generation *int64) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("document name is required")
	}
	obj := b.client.Bucket(b.bucket).Object(b.ObjectName(name))
	if generation != nil {
		if *generation == 0 {
			obj = obj.If(storage.Conditions{DoesNotExist: true})
		} else {
			obj = obj.If(storage.Conditions{GenerationMatch: *generation})
		}
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return 0, b.translate(name, generation, fmt.Errorf("write object: %w (close writer: %v)", err, closeErr))
		}
		return 0, b.translate(name, generation, fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return 0, b.translate(name, generation, fmt.Errorf("close writer: %w", err))
	}
	return writer.Attrs().Generation, nil
}

func (b *Backend) translate(name string, generation *int64, err error) error {
	if generation != nil && isPreconditionFailed(err) {
		return &docstore.ConflictError{Name: name, Expected: *generation, Actual: -1}
	}
	return err
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}
