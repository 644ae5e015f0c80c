// Package memory holds the bounded history of retrieval interactions, with
// JSON file persistence across restarts.
package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/observability"
)

// Entry is one recorded retrieval interaction.
type Entry struct {
	Jurisdiction  string    `json:"jurisdiction"`
	Query         string    `json:"query"`
	RetrievedDocs []string  `json:"retrieved_docs"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store is a mutex-guarded ring of recent interactions. When the ring is
// full the oldest entry is evicted. Persistence failures are logged, never
// surfaced to callers.
type Store struct {
	mu         sync.Mutex
	maxHistory int
	path       string
	entries    []Entry
	bus        commbus.CommBus
}

// NewStore creates a store bounded to maxHistory entries, loading any
// previously persisted history from path. A missing or unreadable file
// starts the store empty.
func NewStore(path string, maxHistory int, bus commbus.CommBus) *Store {
	s := &Store{
		maxHistory: maxHistory,
		path:       path,
		entries:    make([]Entry, 0, maxHistory),
		bus:        bus,
	}
	s.load()
	observability.SetMemoryEntries(len(s.entries))
	return s
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Str("path", s.path).Err(err).Msg("memory_load_failed")
		}
		return
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("memory_decode_failed")
		return
	}
	if len(entries) > s.maxHistory {
		entries = entries[len(entries)-s.maxHistory:]
	}
	s.entries = entries
}

// Remember appends an interaction, evicting the oldest entry when full.
func (s *Store) Remember(jurisdiction, query string, retrievedDocs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{
		Jurisdiction:  jurisdiction,
		Query:         query,
		RetrievedDocs: retrievedDocs,
		Timestamp:     time.Now().UTC(),
	})
	if len(s.entries) > s.maxHistory {
		s.entries = s.entries[len(s.entries)-s.maxHistory:]
	}
	observability.SetMemoryEntries(len(s.entries))
}

// Recall returns the most recent entry for a jurisdiction, matched
// case-insensitively. Returns false when no interaction has been recorded.
func (s *Store) Recall(jurisdiction string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := strings.ToUpper(strings.TrimSpace(jurisdiction))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if strings.ToUpper(s.entries[i].Jurisdiction) == want {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// Snapshot returns up to k most recent entries, newest first.
func (s *Store) Snapshot(k int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k > len(s.entries) {
		k = len(s.entries)
	}
	out := make([]Entry, 0, k)
	for i := len(s.entries) - 1; i >= len(s.entries)-k; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Path returns the persistence file path.
func (s *Store) Path() string { return s.path }

// MaxHistory returns the ring capacity.
func (s *Store) MaxHistory() int { return s.maxHistory }

// States returns the sorted distinct jurisdictions present in the history.
func (s *Store) States() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, e := range s.entries {
		if e.Jurisdiction != "" {
			seen[e.Jurisdiction] = struct{}{}
		}
	}
	states := make([]string, 0, len(seen))
	for state := range seen {
		states = append(states, state)
	}
	sort.Strings(states)
	return states
}

// Persist writes the current history to the backing file. Failures are
// logged and swallowed so a bad disk never breaks the pipeline.
func (s *Store) Persist(ctx context.Context) {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	count := len(s.entries)
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("memory_encode_failed")
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("memory_persist_failed")
		return
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("memory_persist_failed")
		return
	}

	log.Debug().Int("entries", count).Str("path", s.path).Msg("memory_persisted")
	if s.bus != nil {
		_ = s.bus.Publish(ctx, &commbus.MemoryPersisted{Entries: count, Path: s.path})
	}
}
