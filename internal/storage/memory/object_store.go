// Package memory keeps archive objects in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/storage"
)

// RootID is the implicit top-level folder.
const RootID = "root"

type entry struct {
	item    ingest.StorageItem
	content []byte
}

// ObjectStore is an in-memory ingest.ObjectStore for tests and dry runs.
type ObjectStore struct {
	mu        sync.RWMutex
	items     map[string]*entry
	transfers int
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{items: make(map[string]*entry)}
}

func (s *ObjectStore) find(name, parentID string, folder bool) (ingest.StorageItem, bool) {
	for _, e := range s.items {
		if e.item.Name == name && e.item.ParentID == parentID && e.item.IsFolder() == folder {
			return e.item, true
		}
	}
	return ingest.StorageItem{}, false
}

// FindFolder looks a folder up by name under parentID.
func (s *ObjectStore) FindFolder(_ context.Context, name, parentID string) (ingest.StorageItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.find(name, parentID, true)
	return item, ok, nil
}

// CreateFolder creates a folder. It does not check for an existing one.
func (s *ObjectStore) CreateFolder(_ context.Context, name, parentID string) (ingest.StorageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := ingest.StorageItem{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: ingest.FolderMimeType,
		ParentID: parentID,
	}
	s.items[item.ID] = &entry{item: item}
	return item, nil
}

// FindFile looks a file up by name under parentID.
func (s *ObjectStore) FindFile(_ context.Context, name, parentID string) (ingest.StorageItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.find(name, parentID, false)
	return item, ok, nil
}

// CreateFile stores content and counts one transfer.
func (s *ObjectStore) CreateFile(
	_ context.Context, name, parentID, mimeType string, content io.Reader,
) (ingest.StorageItem, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return ingest.StorageItem{}, fmt.Errorf("read content: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item := ingest.StorageItem{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		ParentID: parentID,
	}
	s.items[item.ID] = &entry{item: item, content: data}
	s.transfers++
	return item, nil
}

// List returns the children of parentID ordered by name.
func (s *ObjectStore) List(_ context.Context, parentID string) ([]ingest.StorageItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.StorageItem
	for _, e := range s.items {
		if e.item.ParentID == parentID {
			out = append(out, e.item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Move re-parents an item without touching its content.
func (s *ObjectStore) Move(_ context.Context, id, fromParentID, toParentID string) (ingest.StorageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return ingest.StorageItem{}, fmt.Errorf("move %s: %w", id, storage.ErrNotFound)
	}
	if fromParentID != "" && e.item.ParentID != fromParentID {
		return ingest.StorageItem{}, fmt.Errorf("move %s: not in folder %s: %w", id, fromParentID, storage.ErrNotFound)
	}
	e.item.ParentID = toParentID
	return e.item, nil
}

// Delete removes an item and, for folders, everything below it.
func (s *ObjectStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, storage.ErrNotFound)
	}
	s.deleteTree(id)
	return nil
}

func (s *ObjectStore) deleteTree(id string) {
	for childID, e := range s.items {
		if e.item.ParentID == id {
			s.deleteTree(childID)
		}
	}
	delete(s.items, id)
}

// Content returns the stored bytes of a file.
func (s *ObjectStore) Content(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok || e.item.IsFolder() {
		return nil, false
	}
	return append([]byte(nil), e.content...), true
}

// Transfers returns how many file bodies were uploaded.
func (s *ObjectStore) Transfers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transfers
}
