// Package ingest defines core types shared across the ingestion pipeline.
package ingest

import (
	"io"
	"net/http"
	"time"
)

// LinkContext is a candidate link discovered on a crawled page together with
// the text that surrounds it. It is produced by a crawl driver and consumed once.
type LinkContext struct {
	URL              string            `json:"url"`
	LinkText         string            `json:"link_text,omitempty"`
	SurroundingText  string            `json:"surrounding_text,omitempty"`
	PageTitle        string            `json:"page_title,omitempty"`
	AnchorAttributes map[string]string `json:"anchor_attributes,omitempty"`
}

// Page is everything a crawl driver hands over for one visited page.
type Page struct {
	URL   string        `json:"url"`
	Title string        `json:"title"`
	Links []LinkContext `json:"links"`
	// Err is set when the driver could not load the page.
	Err error `json:"-"`
}

// FilterDecision is the relevance verdict for a single candidate link.
type FilterDecision struct {
	ShouldDownload  bool    `json:"shouldDownload"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	DetectedSubject string  `json:"detectedSubject,omitempty"`
	DetectedGrade   string  `json:"detectedGrade,omitempty"`
}

// Grade buckets plus the two holding values used by the sorter.
const (
	GradeJHS1          = "Grade7_JHS1"
	GradeJHS2          = "Grade8_JHS2"
	GradeJHS3          = "Grade9_JHS3"
	GradeSHS1          = "SHS1"
	GradeSHS2          = "SHS2"
	GradeSHS3          = "SHS3"
	Uncategorized      = "Uncategorized"
	ReviewNeeded       = "Review_Needed"
	FolderMimeType     = "application/vnd.google-apps.folder"
	DefaultMimeType    = "application/octet-stream"
	DefaultReasoning   = "No reasoning provided"
	DefaultConfidence  = 0.5
	FallbackReasoning  = "Fallback heuristic (AI unavailable)"
	StagingDirName     = "incoming"
	DefaultFinishedDir = "finished"
)

// ClassificationResult assigns a file to a grade bucket and subject.
type ClassificationResult struct {
	Grade      string  `json:"grade"`
	Subject    string  `json:"subject"`
	Confidence float64 `json:"confidence"`
}

// NodeID renders the curriculum node identifier used by the mapping store.
func (r ClassificationResult) NodeID() string {
	return r.Grade + "/" + r.Subject
}

// OutcomeStatus is the tri-state result of a download attempt.
type OutcomeStatus string

// Download outcome values.
const (
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// DownloadOutcome reports what happened to a single acquire call.
type DownloadOutcome struct {
	Status OutcomeStatus
	// Path is the finalized file for Success and the existing match for Skipped.
	Path string
	// Name is the resolved filename.
	Name string
	// RemoteID is set when the file was handed to the archiver successfully.
	RemoteID string
	// Bytes is the size written for Success.
	Bytes int64
	Err   error
}

// Skipped builds a duplicate outcome.
func Skipped(name, existing string) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeSkipped, Name: name, Path: existing}
}

// Success builds a finalized outcome.
func Success(name, path string) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeSuccess, Name: name, Path: path}
}

// Failed builds a failure outcome.
func Failed(name string, err error) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeFailed, Name: name, Err: err}
}

// StorageItem is a remote object-storage entity (folder or file).
type StorageItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	ParentID string `json:"parentId"`
}

// IsFolder reports whether the item is a folder.
func (i StorageItem) IsFolder() bool {
	return i.MimeType == FolderMimeType
}

// FileStage is the lifecycle position of a single acquired file.
type FileStage string

// File stages in the order they are reached. Review and Sorted are terminal
// alternatives reached from Verified or Archived.
const (
	StageFetched  FileStage = "fetched"
	StageVerified FileStage = "verified"
	StageArchived FileStage = "archived"
	StageReview   FileStage = "review"
	StageSorted   FileStage = "sorted"
)

var stageRank = map[FileStage]int{
	StageFetched:  1,
	StageVerified: 2,
	StageArchived: 3,
	StageReview:   3,
	StageSorted:   4,
}

// CanAdvance reports whether a file may move from the current stage to next.
// Stages only move forward; an unknown current stage accepts any known stage.
func (s FileStage) CanAdvance(next FileStage) bool {
	nextRank, ok := stageRank[next]
	if !ok {
		return false
	}
	return nextRank >= stageRank[s]
}

// FetchResult is the streamed response of a binary fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
	Duration   time.Duration
}
