// Package storage holds what the object store backends share.
package storage

import (
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when an item id does not resolve.
var ErrNotFound = errors.New("storage item not found")

// ErrNotAFolder is returned when a folder operation targets a file.
var ErrNotAFolder = errors.New("storage item is not a folder")

// MimeTypeFor guesses a mime type from a filename extension.
func MimeTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
