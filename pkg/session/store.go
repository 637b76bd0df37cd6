package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zen-systems/stageloop/pkg/pipeline"
)

// DefaultDir is where sessions live unless the caller overrides it.
const DefaultDir = ".stageloop/sessions"

var (
	// ErrNotFound reports a missing session.
	ErrNotFound = errors.New("session not found")

	// ErrNotResumable reports a resume attempt on a session that is not
	// paused. Completed and failed runs stay on disk for inspection but
	// cannot be re-entered.
	ErrNotResumable = errors.New("session is not resumable")
)

// Store persists sessions as JSON files, one file per session, grouped by
// pipeline kind: <dir>/<kind>/<session_id>.json. Writes go through a temp
// file and rename, so a crash mid-write never corrupts the previous
// snapshot.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir; empty means DefaultDir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{Dir: dir}
}

// Save writes the session snapshot durably. It satisfies
// pipeline.SessionStore.
func (s *Store) Save(sess *pipeline.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session has no id")
	}
	dir := filepath.Join(s.Dir, kindDir(sess.PipelineKind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	path := filepath.Join(dir, sess.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads one session by kind and id.
func (s *Store) Load(kind, id string) (*pipeline.Session, error) {
	path := filepath.Join(s.Dir, kindDir(kind), id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
		}
		return nil, err
	}
	var sess pipeline.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Latest returns the most recently updated session of a kind.
func (s *Store) Latest(kind string) (*pipeline.Session, error) {
	sessions, err := s.List(kind)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotFound)
	}
	return sessions[0], nil
}

// Resume loads a session for re-entry. id may be empty to resume the latest
// session of the kind. Only paused sessions are resumable.
func (s *Store) Resume(kind, id string) (*pipeline.Session, error) {
	var sess *pipeline.Session
	var err error
	if id == "" {
		sess, err = s.Latest(kind)
	} else {
		sess, err = s.Load(kind, id)
	}
	if err != nil {
		return nil, err
	}
	if sess.Status != pipeline.StatusPaused {
		return nil, fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, ErrNotResumable)
	}
	return sess, nil
}

// List returns all sessions of a kind, newest first. A kind with no
// sessions yields an empty list, not an error.
func (s *Store) List(kind string) ([]*pipeline.Session, error) {
	dir := filepath.Join(s.Dir, kindDir(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*pipeline.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Load(kind, strings.TrimSuffix(name, ".json"))
		if err != nil {
			// One corrupt file should not hide the rest.
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Delete removes one session file.
func (s *Store) Delete(kind, id string) error {
	path := filepath.Join(s.Dir, kindDir(kind), id+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
		}
		return err
	}
	return nil
}

// Clean removes all terminal (completed or failed) sessions of a kind and
// reports how many were removed. Paused and running sessions are kept.
func (s *Store) Clean(kind string) (int, error) {
	sessions, err := s.List(kind)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sess := range sessions {
		if sess.Status != pipeline.StatusCompleted && sess.Status != pipeline.StatusFailed {
			continue
		}
		if err := s.Delete(kind, sess.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func kindDir(kind string) string {
	if kind == "" {
		return "default"
	}
	return kind
}
