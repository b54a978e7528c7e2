// Package storage persists the deployed flow definition in a blob bucket.
// Any gocloud.dev bucket URL works: file://, mem://, s3://, gs://, and
// azblob://
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/kode4food/wireflow/pkg/api"
)

// FlowStore reads and writes the flow file
type FlowStore struct {
	bucket *blob.Bucket
	key    string
}

var (
	ErrOpenBucket   = errors.New("unable to open storage bucket")
	ErrLoadFlows    = errors.New("unable to load flows")
	ErrSaveFlows    = errors.New("unable to save flows")
	ErrMissingKey   = errors.New("flow file key is required")
	emptyDefinition = []byte("[]")
)

// Open opens the bucket at bucketURL and binds the store to the flow file
// key. File buckets have their directory created first
func Open(ctx context.Context, bucketURL, key string) (*FlowStore, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if err := ensureDir(bucketURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenBucket, err)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenBucket, err)
	}
	return &FlowStore{bucket: bucket, key: key}, nil
}

// Key returns the flow file key
func (s *FlowStore) Key() string {
	return s.key
}

// BackupKey returns the key the previous flow file is copied to on save.
// The backup sits next to the flow file as a dot file
func (s *FlowStore) BackupKey() string {
	return path.Join(path.Dir(s.key), "."+path.Base(s.key)+".backup")
}

// Load reads the stored definition. A missing flow file yields an empty
// definition
func (s *FlowStore) Load(ctx context.Context) (*api.Definition, error) {
	data, err := s.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	def, err := api.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFlows, err)
	}
	return def, nil
}

// LoadRaw reads the stored flow file bytes
func (s *FlowStore) LoadRaw(ctx context.Context) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return emptyDefinition, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrLoadFlows, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return emptyDefinition, nil
	}
	return data, nil
}

// Save writes the definition, first copying the current flow file to the
// backup key
func (s *FlowStore) Save(ctx context.Context, def *api.Definition) error {
	data, err := json.MarshalIndent(def, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFlows, err)
	}
	if err := s.backup(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFlows, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, s.key, data, opts); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFlows, err)
	}
	return nil
}

func (s *FlowStore) Close() error {
	return s.bucket.Close()
}

func (s *FlowStore) backup(ctx context.Context) error {
	err := s.bucket.Copy(ctx, s.BackupKey(), s.key, nil)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func ensureDir(bucketURL string) error {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return err
	}
	if u.Scheme != "file" || u.Path == "" {
		return nil
	}
	return os.MkdirAll(u.Path, 0o755)
}
