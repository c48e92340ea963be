package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// feedState is the durable checkpoint for conditional feed fetches.
// When the upstream honours ETag / Last-Modified, an unchanged feed costs
// one 304 round trip instead of a full download and re-parse.
type feedState struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
}

// loadFeedState reads the checkpoint. Any error (missing file, bad JSON)
// yields a zero state: the next fetch is simply unconditional.
func loadFeedState(path string) feedState {
	var st feedState
	if path == "" {
		return st
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return feedState{}
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return feedState{}
	}
	return st
}

// saveFeedState persists the checkpoint. Best-effort: a failed save only
// costs a redundant download next run.
func saveFeedState(path string, st feedState) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
