// Package threadstore persists the mapping from canonical thread ids to
// external resumable session metadata, one JSON document per workspace.
//
// Canonical thread ids are minted by this layer and are independent of
// the external tool's own session concept; the two identity spaces meet
// only here. Every mutation rewrites the full document before it is
// acknowledged.
package threadstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
)

// Metadata is the persisted record for one canonical thread.
type Metadata struct {
	// ExternalSessionID is the tool's opaque resumable session id,
	// captured from the tool's output stream. Nil until first observed.
	ExternalSessionID *string `json:"externalSessionId"`

	Name      *string `json:"name"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
	Archived  bool    `json:"archived"`
}

// document is the on-disk shape: {"threads": {"<threadId>": {...}}}.
type document struct {
	Threads map[string]*Metadata `json:"threads"`
}

// ThreadInfo is one entry of a listing.
type ThreadInfo struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
	Archived  bool    `json:"archived"`
}

// Store holds the thread metadata for one workspace.
type Store struct {
	log  *slog.Logger
	path string

	mu      sync.Mutex
	threads map[string]*Metadata
}

// DefaultPath returns the per-workspace store location under the user
// config directory.
func DefaultPath(workspaceID string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}

	return filepath.Join(base, "agentmonitor", "adapter-threads", workspaceID+".json")
}

// Load reads the store for path. A missing or corrupt file yields an
// empty store, never a failure: losing resumability is recoverable,
// refusing to construct the adapter is not.
func Load(log *slog.Logger, path string) *Store {
	s := &Store{
		log:     log.With("component", "threadstore"),
		path:    path,
		threads: make(map[string]*Metadata, 8),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("Could not read thread store, starting empty", "path", path, "error", err)
		}

		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("Thread store is corrupt, starting empty", "path", path, "error", err)

		return s
	}

	if doc.Threads != nil {
		s.threads = doc.Threads
	}

	return s
}

// save rewrites the whole document. Caller must hold s.mu.
func (s *Store) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create thread store directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(document{Threads: s.threads}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thread store: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write thread store: %w", err)
	}

	return nil
}

func now() int64 {
	return time.Now().Unix()
}

// Create mints a new canonical thread id, records it, and persists.
func (s *Store) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	ts := now()
	s.threads[id] = &Metadata{CreatedAt: ts, UpdatedAt: ts}

	if err := s.save(); err != nil {
		delete(s.threads, id)

		return "", err
	}

	return id, nil
}

// Fork copies an existing thread into a new one. The external session id
// is not carried over: the fork starts a fresh tool session.
func (s *Store) Fork(sourceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.threads[sourceID]
	if !ok {
		return "", errors.ErrThreadNotFound
	}

	id := ulid.Make().String()
	ts := now()

	meta := &Metadata{CreatedAt: ts, UpdatedAt: ts}
	if source.Name != nil {
		forked := *source.Name + " (fork)"
		meta.Name = &forked
	}

	s.threads[id] = meta

	if err := s.save(); err != nil {
		delete(s.threads, id)

		return "", err
	}

	return id, nil
}

// Get returns a copy of the metadata for id. Archived threads remain
// retrievable here even though listings exclude them.
func (s *Store) Get(id string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.threads[id]
	if !ok {
		return Metadata{}, false
	}

	return *meta, true
}

// List returns all non-archived threads, newest first.
func (s *Store) List() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ThreadInfo, 0, len(s.threads))

	for id, meta := range s.threads {
		if meta.Archived {
			continue
		}

		infos = append(infos, ThreadInfo{
			ID:        id,
			Name:      meta.Name,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			Archived:  meta.Archived,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UpdatedAt != infos[j].UpdatedAt {
			return infos[i].UpdatedAt > infos[j].UpdatedAt
		}

		return infos[i].ID > infos[j].ID
	})

	return infos
}

// Archive marks id archived and persists. Archiving an unknown id is a
// no-op apart from the rewrite.
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.threads[id]; ok {
		meta.Archived = true
		meta.UpdatedAt = now()
	}

	return s.save()
}

// SetName renames id and persists.
func (s *Store) SetName(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.threads[id]; ok {
		meta.Name = &name
		meta.UpdatedAt = now()
	}

	return s.save()
}

// SetExternalSessionID records the tool's resumable session id for a
// thread and persists immediately, so resumption survives a later crash
// of the transient process.
func (s *Store) SetExternalSessionID(id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.threads[id]
	if !ok {
		return errors.ErrThreadNotFound
	}

	meta.ExternalSessionID = &sessionID
	meta.UpdatedAt = now()

	return s.save()
}

// ExternalSessionID returns the stored resumable session id for a thread.
func (s *Store) ExternalSessionID(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.threads[id]
	if !ok || meta.ExternalSessionID == nil {
		return "", false
	}

	return *meta.ExternalSessionID, true
}

// Contains reports whether id exists in the store, archived or not.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.threads[id]

	return ok
}
