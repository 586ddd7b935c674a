// Package store persists the agent's durable state (§4.8): the current
// position, a bounded history of pool snapshots, decisions, and
// announcements, all held in one JSON document on disk.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"treasuryagent/pkg/types"
)

const (
	maxSnapshots = 5000
	maxDecisions = 2000
	maxTweets    = 2000
)

// Document is the single JSON document written to disk.
type Document struct {
	Position  types.Position          `json:"position"`
	Snapshots []types.PoolSnapshot    `json:"snapshots"`
	Decisions []types.StoredDecision  `json:"decisions"`
	Tweets    []types.TweetRecord     `json:"tweets"`
}

// Store is a filesystem-backed, FIFO-serialized state document. Every
// mutation is applied under mu and written out atomically: a temp file in
// the same directory, then renamed over the real path, so a reader never
// observes a half-written document.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads path if it exists, or starts from an empty Document if it
// does not.
func Open(path string) (*Store, error) {
	trimmed := path
	if trimmed == "" {
		return nil, fmt.Errorf("store path required")
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	s := &Store{path: trimmed}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return s, nil
}

// Position returns the current position.
func (s *Store) Position() types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Position
}

// RecentDecisions returns a copy of the decision history, newest last.
func (s *Store) RecentDecisions() []types.StoredDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.StoredDecision, len(s.doc.Decisions))
	copy(out, s.doc.Decisions)
	return out
}

// Snapshots returns a copy of the whole bounded snapshot history, not only
// the most recent scan.
func (s *Store) Snapshots() []types.PoolSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PoolSnapshot, len(s.doc.Snapshots))
	copy(out, s.doc.Snapshots)
	return out
}

// RecordTick appends one tick's snapshots and decision, updates the
// position if non-nil, and persists the result atomically. Callers hold
// no lock of their own: RecordTick is the only mutation path and is safe
// for concurrent use.
func (s *Store) RecordTick(snapshots []types.PoolSnapshot, decision types.StoredDecision, position *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Snapshots = append(s.doc.Snapshots, snapshots...)
	if len(s.doc.Snapshots) > maxSnapshots {
		s.doc.Snapshots = s.doc.Snapshots[len(s.doc.Snapshots)-maxSnapshots:]
	}

	s.doc.Decisions = append(s.doc.Decisions, decision)
	if len(s.doc.Decisions) > maxDecisions {
		s.doc.Decisions = s.doc.Decisions[len(s.doc.Decisions)-maxDecisions:]
	}

	if position != nil {
		s.doc.Position = *position
	}

	return s.writeLocked()
}

// RecordTweet appends one announcement record and persists the result.
func (s *Store) RecordTweet(rec types.TweetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Tweets = append(s.doc.Tweets, rec)
	if len(s.doc.Tweets) > maxTweets {
		s.doc.Tweets = s.doc.Tweets[len(s.doc.Tweets)-maxTweets:]
	}
	return s.writeLocked()
}

// writeLocked marshals the document and replaces the state file atomically.
// Caller must hold mu.
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
