// Package gcs reads statements from and uploads statements to Google Cloud
// Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Scheme prefixes every object URI.
const Scheme = "gs://"

const uploadTimeout = 2 * time.Minute

// ErrInvalidURI is returned for strings that are not gs://bucket[/object].
var ErrInvalidURI = errors.New("invalid GCS URI")

// IsURI reports whether s names a GCS object or prefix.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits gs://bucket/object into its parts. object may be empty.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	trimmed := strings.TrimPrefix(uri, Scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("%w (no bucket): %s", ErrInvalidURI, uri)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element of an object URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	bucket, object, err := ParseURI(uri)
	if err != nil || object == "" {
		return bucket
	}
	return path.Base(object)
}

// Client wraps a storage client. It implements the importer's fetcher.
type Client struct {
	client *storage.Client
}

// NewClient creates a storage client using Application Default Credentials
// unless opts say otherwise.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close releases the storage client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Fetch downloads the object named by uri.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	if object == "" {
		return nil, fmt.Errorf("Fetch: %w (no object path): %s", ErrInvalidURI, uri)
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	logger.Ctx(ctx).Debug().Str("uri", uri).Int("bytes", len(data)).Msg("fetched object")
	return data, nil
}

// List expands a prefix URI into the object URIs below it, skipping
// directory placeholders. A URI naming a single object returns just that
// object.
func (c *Client) List(ctx context.Context, uri string) ([]string, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	var out []string
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iter next: %w", err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		out = append(out, Scheme+bucket+"/"+attrs.Name)
	}
	return out, nil
}

// UploadFile uploads a local file to bucket under objectName.
func (c *Client) UploadFile(ctx context.Context, bucket, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadFile: copy file to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadFile: finalize upload: %w", err)
	}
	logger.Ctx(ctx).Info().Str("bucket", bucket).Str("object", objectName).Msg("uploaded statement")
	return nil
}
