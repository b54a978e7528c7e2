package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/wireflow/pkg/api"
)

// Library keeps saved snippets in the flow bucket under lib/<kind>/. A
// name is a slash-separated path, so entries can be grouped in folders
type Library struct {
	bucket *blob.Bucket
	prefix string
}

const libraryRoot = "lib"

var (
	ErrLibraryEntryNotFound = errors.New("library entry not found")
	ErrInvalidLibraryPath   = errors.New("invalid library path")
	ErrReadLibrary          = errors.New("unable to read library")
	ErrWriteLibrary         = errors.New("unable to write library")
)

// Library returns the library of one kind of snippet, such as "flows",
// kept in the same bucket as the flow file
func (s *FlowStore) Library(kind string) *Library {
	return &Library{
		bucket: s.bucket,
		prefix: path.Join(libraryRoot, kind) + "/",
	}
}

// List returns the folders and entries directly inside dir. An empty dir
// lists the top of the library
func (l *Library) List(
	ctx context.Context, dir string,
) (*api.LibraryListing, error) {
	prefix := l.prefix
	if dir = cleanLibraryPath(dir); dir != "" {
		if !validLibraryPath(dir) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLibraryPath, dir)
		}
		prefix += dir + "/"
	}

	res := &api.LibraryListing{Folders: []string{}, Entries: []string{}}
	iter := l.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadLibrary, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name == "" {
			continue
		}
		if obj.IsDir {
			res.Folders = append(res.Folders, name)
			continue
		}
		res.Entries = append(res.Entries, name)
	}
}

// Load reads one entry
func (l *Library) Load(ctx context.Context, name string) ([]byte, error) {
	key, err := l.key(name)
	if err != nil {
		return nil, err
	}
	data, err := l.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrLibraryEntryNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadLibrary, err)
	}
	return data, nil
}

// Save writes one entry, replacing any entry of the same name
func (l *Library) Save(ctx context.Context, name string, data []byte) error {
	key, err := l.key(name)
	if err != nil {
		return err
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := l.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteLibrary, err)
	}
	return nil
}

func (l *Library) key(name string) (string, error) {
	name = cleanLibraryPath(name)
	if name == "" || !validLibraryPath(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLibraryPath, name)
	}
	return l.prefix + name, nil
}

func cleanLibraryPath(p string) string {
	return strings.Trim(p, "/")
}

func validLibraryPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
