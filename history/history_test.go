package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FoodDetServer/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func counts(pairs ...any) *detection.ClassCounts {
	c := detection.NewClassCounts()
	for i := 0; i < len(pairs); i += 2 {
		c.Add(pairs[i].(string), pairs[i+1].(int))
	}
	return c
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &Inference{CreatedAt: base, Source: "http", Provenance: "production-path", Total: 3,
		ClassCounts: counts("Grape", 2, "Apple", 1)}
	second := &Inference{CreatedAt: base.Add(time.Second), Source: "ws", Provenance: "production-path", Total: 0,
		ClassCounts: detection.NewClassCounts()}
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, "ws", recent[0].Source)
	assert.Equal(t, 0, recent[0].ClassCounts.Len())

	assert.Equal(t, first.ID, recent[1].ID)
	assert.Equal(t, base, recent[1].CreatedAt)
	assert.Equal(t, 3, recent[1].Total)
	assert.Equal(t, []string{"Grape", "Apple"}, recent[1].ClassCounts.Names())
	assert.Equal(t, 2, recent[1].ClassCounts.Get("Grape"))

	limited, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)

	_, err = s.Recent(ctx, 0)
	assert.Error(t, err)
}

func TestRecentSameTimestampNewestInsertFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Inference{CreatedAt: at, Source: "http", Provenance: "run-weights"}
	b := &Inference{CreatedAt: at, Source: "http", Provenance: "run-weights"}
	require.NoError(t, s.Record(ctx, a))
	require.NoError(t, s.Record(ctx, b))

	recent, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, b.ID, recent[0].ID)
	assert.Equal(t, a.ID, recent[1].ID)
}

func TestRecordDuplicateIDRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	inf := &Inference{ID: "fixed", Source: "http", Provenance: "production-path", Total: 1, ClassCounts: counts("Kiwi", 1)}
	require.NoError(t, s.Record(ctx, inf))
	assert.Error(t, s.Record(ctx, &Inference{ID: "fixed", Source: "http", Provenance: "production-path"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	totals, err := s.ClassTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ClassTotal{{Class: "Kiwi", Total: 1}}, totals)
}

func TestClassTotals(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	totals, err := s.ClassTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)

	require.NoError(t, s.Record(ctx, &Inference{Source: "http", Provenance: "p", Total: 3, ClassCounts: counts("Pear", 2, "Apple", 1)}))
	require.NoError(t, s.Record(ctx, &Inference{Source: "grpc", Provenance: "p", Total: 2, ClassCounts: counts("Apple", 1, "Mango", 1)}))

	totals, err = s.ClassTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ClassTotal{
		{Class: "Apple", Total: 2},
		{Class: "Pear", Total: 2},
		{Class: "Mango", Total: 1},
	}, totals)
}

func TestConcurrentRecord(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Record(ctx, &Inference{Source: "http", Provenance: "p", Total: 1, ClassCounts: counts("Banana", 1)}))
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	totals, err := s.ClassTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ClassTotal{{Class: "Banana", Total: 20}}, totals)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), &Inference{Source: "http", Provenance: "p"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
