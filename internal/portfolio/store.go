// Package portfolio persists saved trees as a single JSON array on disk.
//
// Every mutation rewrites the whole file through a temp file in the same
// directory followed by a rename, so the canonical file is always a complete
// JSON document. A file that cannot be decoded is reported as ErrCorrupt and
// is never overwritten.
package portfolio

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"

	"github.com/vbonduro/treebank/internal/domain"
)

var (
	ErrNotFound = goerr.New("tree not found")
	ErrCorrupt  = goerr.New("portfolio file is corrupt")
	ErrInvalid  = goerr.New("invalid tree record")
)

type Store struct {
	path string

	mu      sync.RWMutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	rename  func(oldpath, newpath string) error
}

// Open returns a store backed by path, creating the parent directory and an
// empty portfolio when the file does not exist yet. An existing file is not
// inspected here; corruption surfaces on first use.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, goerr.Wrap(ErrInvalid, "portfolio path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create portfolio directory", goerr.V("path", path))
	}

	s := &Store{
		path:    path,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
		rename:  os.Rename,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, goerr.Wrap(err, "failed to stat portfolio file", goerr.V("path", path))
	}
	return s, nil
}

// Path returns the canonical file location.
func (s *Store) Path() string {
	return s.path
}

// Append stores rec and returns its id. An empty ID is replaced with a new
// ULID and a zero CreatedAt with the current time.
func (s *Store) Append(ctx context.Context, rec domain.TreeRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.HealthStatus == "" {
		rec.HealthStatus = domain.HealthUnknown
	}
	if !rec.HealthStatus.Valid() {
		return "", goerr.Wrap(ErrInvalid, "unknown health status", goerr.V("health_status", rec.HealthStatus))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return "", err
	}

	if rec.ID == "" {
		id, err := ulid.New(ulid.Timestamp(s.now()), s.entropy)
		if err != nil {
			return "", goerr.Wrap(err, "failed to generate tree id")
		}
		rec.ID = id.String()
	}
	for _, existing := range records {
		if existing.ID == rec.ID {
			return "", goerr.Wrap(ErrInvalid, "duplicate tree id", goerr.V("id", rec.ID))
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	if err := s.write(append(records, rec)); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// List returns every record in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.TreeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read()
}

func (s *Store) Get(ctx context.Context, id string) (domain.TreeRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return domain.TreeRecord{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.TreeRecord{}, goerr.Wrap(ErrNotFound, "no tree with id", goerr.V("id", id))
}

// Update applies fn to the stored record and persists the result. fn may not
// change the id or creation time. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.TreeRecord) error) (domain.TreeRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TreeRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return domain.TreeRecord{}, err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return domain.TreeRecord{}, goerr.Wrap(ErrNotFound, "no tree with id", goerr.V("id", id))
	}

	rec := records[idx]
	rec.CareLogs = append([]domain.CareLog(nil), rec.CareLogs...)
	if err := fn(&rec); err != nil {
		return domain.TreeRecord{}, err
	}
	if !rec.HealthStatus.Valid() {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalid, "unknown health status", goerr.V("health_status", rec.HealthStatus))
	}
	rec.ID = records[idx].ID
	rec.CreatedAt = records[idx].CreatedAt
	rec.UpdatedAt = s.now()
	records[idx] = rec

	if err := s.write(records); err != nil {
		return domain.TreeRecord{}, err
	}
	return rec, nil
}

// AddCareLog appends a care entry to the tree. A zero LoggedAt is set to now.
func (s *Store) AddCareLog(ctx context.Context, id string, entry domain.CareLog) (domain.TreeRecord, error) {
	if strings.TrimSpace(entry.Activity) == "" {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalid, "care log activity is empty", goerr.V("id", id))
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = s.now()
	}
	return s.Update(ctx, id, func(rec *domain.TreeRecord) error {
		rec.CareLogs = append(rec.CareLogs, entry)
		return nil
	})
}

// Delete removes the tree and returns the record as it was stored.
func (s *Store) Delete(ctx context.Context, id string) (domain.TreeRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TreeRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return domain.TreeRecord{}, err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return domain.TreeRecord{}, goerr.Wrap(ErrNotFound, "no tree with id", goerr.V("id", id))
	}
	removed := records[idx]
	records = append(records[:idx], records[idx+1:]...)

	if err := s.write(records); err != nil {
		return domain.TreeRecord{}, err
	}
	return removed, nil
}

// Stats summarises the portfolio.
type Stats struct {
	TreeCount          int                         `json:"tree_count"`
	TotalValue         float64                     `json:"total_value"`
	TotalCarbonKg      float64                     `json:"total_carbon_kg_per_year"`
	AverageHealthScore *float64                    `json:"average_health_score,omitempty"`
	BySpecies          map[string]int              `json:"by_species"`
	ByHealth           map[domain.HealthStatus]int `json:"by_health"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TreeCount: len(records),
		BySpecies: make(map[string]int),
		ByHealth:  make(map[domain.HealthStatus]int),
	}
	var scoreSum, scored int
	for _, rec := range records {
		if rec.MonetaryValueEstimate != nil {
			st.TotalValue += *rec.MonetaryValueEstimate
		}
		if rec.CarbonSequesteredKgPerYear != nil {
			st.TotalCarbonKg += *rec.CarbonSequesteredKgPerYear
		}
		if rec.HealthScore != nil {
			scoreSum += *rec.HealthScore
			scored++
		}
		species := rec.Species
		if species == "" {
			species = "unknown"
		}
		st.BySpecies[species]++
		st.ByHealth[rec.HealthStatus]++
	}
	if scored > 0 {
		avg := float64(scoreSum) / float64(scored)
		st.AverageHealthScore = &avg
	}
	return st, nil
}

// Export returns the canonical file contents.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return encode(records)
}

func indexOf(records []domain.TreeRecord, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// read loads and validates the file. Callers hold mu.
func (s *Store) read() ([]domain.TreeRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read portfolio file", goerr.V("path", s.path))
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, goerr.Wrap(ErrCorrupt, "portfolio is not a JSON array of trees", goerr.V("path", s.path))
	}

	var records []domain.TreeRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&records); err != nil {
		return nil, goerr.Wrap(ErrCorrupt, "portfolio is not a JSON array of trees", goerr.V("path", s.path), goerr.V("error", err.Error()))
	}
	if dec.More() {
		return nil, goerr.Wrap(ErrCorrupt, "trailing data after portfolio array", goerr.V("path", s.path))
	}

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return nil, goerr.Wrap(ErrCorrupt, "tree without id", goerr.V("path", s.path))
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, goerr.Wrap(ErrCorrupt, "duplicate tree id", goerr.V("path", s.path), goerr.V("id", rec.ID))
		}
		seen[rec.ID] = struct{}{}
	}
	return records, nil
}

// write replaces the file atomically. Callers hold mu.
func (s *Store) write(records []domain.TreeRecord) (err error) {
	data, err := encode(records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp portfolio file", goerr.V("path", s.path))
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write temp portfolio file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync temp portfolio file")
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp portfolio file")
	}
	if err := s.rename(tmp.Name(), s.path); err != nil {
		return goerr.Wrap(err, "failed to replace portfolio file", goerr.V("path", s.path))
	}
	return nil
}

func encode(records []domain.TreeRecord) ([]byte, error) {
	if records == nil {
		records = []domain.TreeRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode portfolio")
	}
	return append(data, '\n'), nil
}

// SortByCreated orders records newest first. List keeps insertion order.
func SortByCreated(records []domain.TreeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
