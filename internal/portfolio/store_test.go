package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vbonduro/treebank/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "tree_data.json"))
	require.NoError(t, err)
	return s
}

func sampleTree() domain.TreeRecord {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return domain.TreeRecord{
		Name:                       "Front yard mango",
		Species:                    "Mango",
		ScientificName:             "Mangifera indica",
		HealthStatus:               domain.HealthHealthy,
		HealthScore:                ptr(85),
		HeightEstimateMeters:       ptr(2.5),
		CanopyWidthEstimateMeters:  ptr(3.0),
		AgeEstimateYears:           ptr(3),
		CarbonSequesteredKgPerYear: ptr(15.6),
		MonetaryValueEstimate:      ptr(1310.0),
		Location:                   "Chiang Mai",
		ImageReference:             "trees/abc.jpg",
		CareLogs:                   []domain.CareLog{{Activity: "watered", LoggedAt: created}},
		CreatedAt:                  created,
		UpdatedAt:                  created,
	}
}

func assertValidJSONFile(t *testing.T, path string) []domain.TreeRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []domain.TreeRecord
	require.NoError(t, json.Unmarshal(data, &records), "file must stay valid JSON")
	return records
}

func TestOpenCreatesEmptyPortfolio(t *testing.T) {
	s := newTestStore(t)

	records := assertValidJSONFile(t, s.Path())
	assert.Empty(t, records)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOpenKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"t1","name":"old","species":"Teak","health_status":"healthy","care_logs":null,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`), 0o600))

	s, err := Open(path)
	require.NoError(t, err)

	rec, err := s.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Teak", rec.Species)
}

func TestAppendThenGetReturnsEqualRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  domain.TreeRecord
	}{
		{name: "fully populated", rec: sampleTree()},
		{name: "all estimates unknown", rec: domain.TreeRecord{
			Species:      "unknown",
			HealthStatus: domain.HealthUnknown,
			CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
			UpdatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		}},
		{name: "caller supplied id", rec: func() domain.TreeRecord {
			r := sampleTree()
			r.ID = "custom-id"
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.Append(ctx, tt.rec)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			want := tt.rec
			want.ID = id
			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestAppendAssignsUniqueIDsAndTimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := s.Append(ctx, domain.TreeRecord{Species: "Teak"})
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 20)
	for _, rec := range records {
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
		assert.Equal(t, domain.HealthUnknown, rec.HealthStatus)
	}
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleTree()
	rec.ID = "same"
	_, err := s.Append(ctx, rec)
	require.NoError(t, err)

	_, err = s.Append(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestAppendRejectsUnknownHealth(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append(context.Background(), domain.TreeRecord{HealthStatus: "wilting"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)
	original, err := s.Get(ctx, id)
	require.NoError(t, err)

	later := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return later }

	updated, err := s.Update(ctx, id, func(rec *domain.TreeRecord) error {
		rec.Name = "Backyard mango"
		rec.ID = "hijacked"
		rec.CreatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, "Backyard mango", updated.Name)
	assert.Equal(t, original.CreatedAt, updated.CreatedAt)
	assert.Equal(t, later, updated.UpdatedAt)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestUpdateCallbackErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	boom := errors.New("rejected")
	_, err = s.Update(ctx, id, func(rec *domain.TreeRecord) error {
		rec.Name = "changed"
		rec.CareLogs[0].Activity = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update(context.Background(), "missing", func(*domain.TreeRecord) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAddCareLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)

	rec, err := s.AddCareLog(ctx, id, domain.CareLog{Activity: "fertilised", Notes: "15-15-15"})
	require.NoError(t, err)
	require.Len(t, rec.CareLogs, 2)
	assert.Equal(t, "fertilised", rec.CareLogs[1].Activity)
	assert.False(t, rec.CareLogs[1].LoggedAt.IsZero())

	_, err = s.AddCareLog(ctx, id, domain.CareLog{Activity: "  "})
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)
	drop, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)

	removed, err := s.Delete(ctx, drop)
	require.NoError(t, err)
	assert.Equal(t, drop, removed.ID)

	records := assertValidJSONFile(t, s.Path())
	require.Len(t, records, 1)
	assert.Equal(t, keep, records[0].ID)

	_, err = s.Delete(ctx, drop)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCorruptFileIsReportedAndNeverRewritten(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated", content: `[{"id": "a", "species": "Te`},
		{name: "object not array", content: `{"id": "a"}`},
		{name: "record without id", content: `[{"species": "Teak"}]`},
		{name: "duplicate ids", content: `[{"id": "a"}, {"id": "a"}]`},
		{name: "trailing garbage", content: `[] []`},
		{name: "null document", content: `null`},
		{name: "null with whitespace", content: "  \nnull\n"},
		{name: "string document", content: `"trees"`},
		{name: "blank file", content: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tree_data.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			s, err := Open(path)
			require.NoError(t, err)
			ctx := context.Background()

			_, err = s.List(ctx)
			assert.True(t, errors.Is(err, ErrCorrupt), "list: %v", err)

			_, err = s.Append(ctx, sampleTree())
			assert.True(t, errors.Is(err, ErrCorrupt), "append: %v", err)

			_, err = s.Delete(ctx, "a")
			assert.True(t, errors.Is(err, ErrCorrupt), "delete: %v", err)

			_, err = s.Stats(ctx)
			assert.True(t, errors.Is(err, ErrCorrupt), "stats: %v", err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data))
		})
	}
}

func TestInterruptedWriteLeavesCanonicalFileIntact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	// Crash between the temp write and the rename.
	s.rename = func(string, string) error { return errors.New("power loss") }
	_, err = s.Append(ctx, sampleTree())
	require.Error(t, err)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, assertValidJSONFile(t, s.Path()), 1)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}

	// A stray temp file from a real crash is ignored on the next write.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(s.Path()), ".tree_data.json.tmp-stray"), []byte(`[{"id":`), 0o600))
	s.rename = os.Rename
	_, err = s.Append(ctx, sampleTree())
	require.NoError(t, err)
	assert.Len(t, assertValidJSONFile(t, s.Path()), 2)
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, domain.TreeRecord{Name: fmt.Sprintf("tree-%d-%d", w, i)}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records := assertValidJSONFile(t, s.Path())
	assert.Len(t, records, writers*perWriter)
	ids := map[string]bool{}
	for _, rec := range records {
		ids[rec.ID] = true
	}
	assert.Len(t, ids, writers*perWriter)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TreeCount)
	assert.Nil(t, empty.AverageHealthScore)

	a := sampleTree()
	b := sampleTree()
	b.HealthScore = ptr(45)
	b.HealthStatus = domain.HealthStressed
	b.MonetaryValueEstimate = ptr(200.0)
	b.CarbonSequesteredKgPerYear = nil
	c := domain.TreeRecord{Species: ""}
	for _, rec := range []domain.TreeRecord{a, b, c} {
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TreeCount)
	assert.InDelta(t, 1510.0, st.TotalValue, 1e-9)
	assert.InDelta(t, 15.6, st.TotalCarbonKg, 1e-9)
	require.NotNil(t, st.AverageHealthScore)
	assert.InDelta(t, 65.0, *st.AverageHealthScore, 1e-9)
	assert.Equal(t, map[string]int{"Mango": 2, "unknown": 1}, st.BySpecies)
	assert.Equal(t, 1, st.ByHealth[domain.HealthStressed])
	assert.Equal(t, 1, st.ByHealth[domain.HealthUnknown])
}

func TestExportMatchesFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, sampleTree())
	require.NoError(t, err)

	data, err := s.Export(ctx)
	require.NoError(t, err)
	onDisk, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, onDisk, data)
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, sampleTree())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSortByCreated(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.TreeRecord{
		{ID: "old", CreatedAt: base},
		{ID: "new", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "mid", CreatedAt: base.Add(time.Hour)},
	}

	SortByCreated(records)

	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
	assert.Equal(t, "old", records[2].ID)
}
