package api

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileItem is one entry of the local archive tree.
type FileItem struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Size     int64      `json:"size"`
	Date     time.Time  `json:"date"`
	Type     string     `json:"type"`
	Children []FileItem `json:"children,omitempty"`
}

// ScanDirectory lists root recursively. Paths are relative to root and use
// forward slashes. A missing root yields an empty tree.
func ScanDirectory(root string) ([]FileItem, error) {
	items, err := scan(root, "")
	if errors.Is(err, fs.ErrNotExist) {
		return []FileItem{}, nil
	}
	return items, err
}

func scan(dir, rel string) ([]FileItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	items := make([]FileItem, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		itemRel := filepath.ToSlash(filepath.Join(rel, entry.Name()))
		item := FileItem{
			Name: entry.Name(),
			Path: itemRel,
			Date: info.ModTime().UTC(),
			Type: "file",
		}
		if entry.IsDir() {
			item.Type = "directory"
			children, err := scan(filepath.Join(dir, entry.Name()), itemRel)
			if err != nil {
				continue
			}
			item.Children = children
		} else {
			item.Size = info.Size()
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}
