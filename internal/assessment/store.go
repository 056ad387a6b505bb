package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("assessment not found")
	ErrSubmitted = errors.New("assessment already submitted")
)

// EventKind names a change in the store.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventSubmitted EventKind = "submitted"
	EventDeleted   EventKind = "deleted"
)

// Event is delivered to subscribers after a change has been persisted.
type Event struct {
	Kind   EventKind
	Record *Record
}

// Store keeps assessment drafts as one JSON file per CHATA-ID, plus the set of
// IDs ever issued.
type Store struct {
	mu   sync.Mutex
	dir  string
	ids  *IDGenerator
	now  func() time.Time
	subs map[int]func(Event)
	next int
}

const usedIDsFile = "used_ids.json"

// OpenStore opens (creating if needed) a store rooted at dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "records"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	var used []string
	data, err := os.ReadFile(filepath.Join(dir, usedIDsFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &used); err != nil {
			return nil, fmt.Errorf("decode used ids: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read used ids: %w", err)
	}
	return &Store{
		dir:  dir,
		ids:  NewIDGenerator(used, nil),
		now:  time.Now,
		subs: make(map[int]func(Event)),
	}, nil
}

// Subscribe registers fn for change events and returns a func that removes it.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Create issues a new CHATA-ID and saves an empty draft for it.
func (s *Store) Create(clinicianName, clinicianEmail, childFirst, childLast string) (*Record, error) {
	s.mu.Lock()
	id, err := s.ids.Generate(clinicianName, childFirst+" "+childLast)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	rec := &Record{
		ChataID:        id,
		ClinicianName:  clinicianName,
		ClinicianEmail: clinicianEmail,
		ChildFirstName: childFirst,
		ChildLastName:  childLast,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveUsedLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: EventCreated, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Get loads a record by CHATA-ID.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(id)
}

// List returns every stored record ordered by CHATA-ID.
func (s *Store) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "records"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var out []*Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.readLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChataID < out[j].ChataID })
	return out, nil
}

// Update applies fn to a draft and saves it. Submitted records cannot change.
func (s *Store) Update(id string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	rec, err := s.readLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if rec.Status == StatusSubmitted {
		s.mu.Unlock()
		return nil, fmt.Errorf("update %s: %w", id, ErrSubmitted)
	}
	if err := fn(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// Identity and lifecycle fields belong to the store.
	rec.ChataID = id
	rec.Status = StatusDraft
	rec.UpdatedAt = s.now()
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: EventUpdated, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Submit validates a draft and moves it to submitted.
func (s *Store) Submit(id string) (*Record, error) {
	s.mu.Lock()
	rec, err := s.readLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if rec.Status == StatusSubmitted {
		s.mu.Unlock()
		return nil, fmt.Errorf("submit %s: %w", id, ErrSubmitted)
	}
	if err := Validate(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	rec.Status = StatusSubmitted
	rec.SubmittedAt = now
	rec.UpdatedAt = now
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: EventSubmitted, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Reopen moves a submitted record back to draft, e.g. after the server
// rejected the submission.
func (s *Store) Reopen(id string) (*Record, error) {
	s.mu.Lock()
	rec, err := s.readLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec.Status = StatusDraft
	rec.SubmittedAt = time.Time{}
	rec.UpdatedAt = s.now()
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: EventUpdated, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Delete removes a record. Its CHATA-ID stays in the used set.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	rec, err := s.readLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := os.Remove(s.recordPath(id)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, err)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: EventDeleted, Record: rec})
	return nil
}

// UsedIDs returns every CHATA-ID the store has issued.
func (s *Store) UsedIDs() []string {
	ids := s.ids.UsedIDs()
	sort.Strings(ids)
	return ids
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, "records", id+".json")
}

func (s *Store) readLocked(id string) (*Record, error) {
	if !ValidChataID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) writeLocked(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.ChataID, err)
	}
	return writeFileAtomic(s.recordPath(rec.ChataID), data)
}

func (s *Store) saveUsedLocked() error {
	ids := s.ids.UsedIDs()
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode used ids: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, usedIDsFile), data)
}

func (s *Store) subscribersLocked() []func(Event) {
	out := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
