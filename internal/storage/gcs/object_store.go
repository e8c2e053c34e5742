// Package gcs provides an archive object store backed by Google Cloud Storage.
//
// GCS has no real folders, so a folder is a zero-byte marker object whose name
// ends in "/" and its id is that prefix. File ids are full object names.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	appstorage "github.com/JakeFAU/edu-harvester/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// RootPrefix scopes the archive inside the bucket, e.g. "harvest/".
	RootPrefix string
}

// ObjectStore implements ingest.ObjectStore on a GCS bucket.
type ObjectStore struct {
	client *storage.Client
	bucket string
	root   string
}

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		root:   folderPrefix(cfg.RootPrefix),
	}, nil
}

// RootID returns the id of the archive root folder.
func (s *ObjectStore) RootID() string {
	return s.root
}

func folderPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *ObjectStore) object(name string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(name)
}

func (s *ObjectStore) lookup(ctx context.Context, name string) (*storage.ObjectAttrs, bool, error) {
	attrs, err := s.object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat object %s: %w", name, err)
	}
	return attrs, true, nil
}

// FindFolder looks up the marker object for name under parentID.
func (s *ObjectStore) FindFolder(ctx context.Context, name, parentID string) (ingest.StorageItem, bool, error) {
	id := folderPrefix(parentID) + name + "/"
	_, ok, err := s.lookup(ctx, id)
	if err != nil || !ok {
		return ingest.StorageItem{}, false, err
	}
	return folderItem(id), true, nil
}

// CreateFolder writes the marker object for name under parentID.
func (s *ObjectStore) CreateFolder(ctx context.Context, name, parentID string) (ingest.StorageItem, error) {
	id := folderPrefix(parentID) + name + "/"
	writer := s.object(id).NewWriter(ctx)
	writer.ContentType = ingest.FolderMimeType
	if err := writer.Close(); err != nil {
		return ingest.StorageItem{}, fmt.Errorf("create folder %s: %w", id, err)
	}
	return folderItem(id), nil
}

// FindFile looks up the object for name under parentID.
func (s *ObjectStore) FindFile(ctx context.Context, name, parentID string) (ingest.StorageItem, bool, error) {
	id := folderPrefix(parentID) + name
	attrs, ok, err := s.lookup(ctx, id)
	if err != nil || !ok {
		return ingest.StorageItem{}, false, err
	}
	return fileItem(attrs.Name, attrs.ContentType), true, nil
}

// CreateFile uploads content as name under parentID.
func (s *ObjectStore) CreateFile(
	ctx context.Context, name, parentID, mimeType string, content io.Reader,
) (ingest.StorageItem, error) {
	id := folderPrefix(parentID) + name
	writer := s.object(id).NewWriter(ctx)
	if mimeType != "" {
		writer.ContentType = mimeType
	}
	if _, err := io.Copy(writer, content); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return ingest.StorageItem{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return ingest.StorageItem{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ingest.StorageItem{}, fmt.Errorf("close writer: %w", err)
	}
	return fileItem(id, mimeType), nil
}

// List returns the direct children of parentID.
func (s *ObjectStore) List(ctx context.Context, parentID string) ([]ingest.StorageItem, error) {
	prefix := folderPrefix(parentID)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var out []ingest.StorageItem
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		switch {
		case attrs.Prefix != "":
			out = append(out, folderItem(attrs.Prefix))
		case attrs.Name == prefix:
			// The parent's own marker.
		default:
			out = append(out, fileItem(attrs.Name, attrs.ContentType))
		}
	}
	return out, nil
}

// Move copies a file under the new parent and deletes the original.
func (s *ObjectStore) Move(ctx context.Context, id, fromParentID, toParentID string) (ingest.StorageItem, error) {
	if strings.HasSuffix(id, "/") {
		return ingest.StorageItem{}, fmt.Errorf("move %s: folders cannot be moved", id)
	}
	if fromParentID != "" && parentOf(id) != folderPrefix(fromParentID) {
		return ingest.StorageItem{}, fmt.Errorf("move %s: not in folder %s: %w", id, fromParentID, appstorage.ErrNotFound)
	}
	dstName := folderPrefix(toParentID) + path.Base(id)
	src := s.object(id)
	attrs, err := s.object(dstName).CopierFrom(src).Run(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ingest.StorageItem{}, fmt.Errorf("move %s: %w", id, appstorage.ErrNotFound)
	}
	if err != nil {
		return ingest.StorageItem{}, fmt.Errorf("copy %s: %w", id, err)
	}
	if err := src.Delete(ctx); err != nil {
		return ingest.StorageItem{}, fmt.Errorf("delete moved source %s: %w", id, err)
	}
	return fileItem(attrs.Name, attrs.ContentType), nil
}

// Delete removes a file, or a folder marker together with everything under it.
func (s *ObjectStore) Delete(ctx context.Context, id string) error {
	if !strings.HasSuffix(id, "/") {
		if err := s.object(id).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return fmt.Errorf("delete %s: %w", id, appstorage.ErrNotFound)
			}
			return fmt.Errorf("delete %s: %w", id, err)
		}
		return nil
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: id})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", id, err)
		}
		if err := s.object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
	}
}

func parentOf(id string) string {
	dir := path.Dir(strings.TrimSuffix(id, "/"))
	if dir == "." {
		return ""
	}
	return dir + "/"
}

func folderItem(id string) ingest.StorageItem {
	return ingest.StorageItem{
		ID:       id,
		Name:     path.Base(strings.TrimSuffix(id, "/")),
		MimeType: ingest.FolderMimeType,
		ParentID: parentOf(id),
	}
}

func fileItem(id, mimeType string) ingest.StorageItem {
	if mimeType == "" {
		mimeType = appstorage.MimeTypeFor(id)
	}
	return ingest.StorageItem{
		ID:       id,
		Name:     path.Base(id),
		MimeType: mimeType,
		ParentID: parentOf(id),
	}
}
