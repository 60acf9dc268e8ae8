package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixflow-erp/fixflow/internal/repair"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

type stubFetcher struct {
	calls   int
	workers map[string]*repair.Worker
}

func (s *stubFetcher) FetchWorker(_ context.Context, id string) (*repair.Worker, error) {
	s.calls++
	if w, ok := s.workers[id]; ok {
		return w, nil
	}
	return nil, shared.ErrNotFound
}

func newTestDirectory(t *testing.T, fetcher *stubFetcher) *Directory {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fetcher, client, time.Minute, logger)
}

func TestLookupCachesProfile(t *testing.T) {
	fetcher := &stubFetcher{workers: map[string]*repair.Worker{
		"w-9": {ID: "w-9", Name: "Somsak", Department: shared.DepartmentWinding, Active: true},
	}}
	dir := newTestDirectory(t, fetcher)

	first, err := dir.Lookup(context.Background(), "w-9")
	require.NoError(t, err)
	second, err := dir.Lookup(context.Background(), "w-9")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.calls, "second lookup should be served from cache")
}

func TestLookupMissPropagatesNotFound(t *testing.T) {
	dir := newTestDirectory(t, &stubFetcher{})

	_, err := dir.Lookup(context.Background(), "ghost")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetcher := &stubFetcher{workers: map[string]*repair.Worker{
		"w-2": {ID: "w-2", Name: "Arthit", Department: shared.DepartmentMachine, Active: true},
	}}
	dir := newTestDirectory(t, fetcher)

	_, err := dir.Lookup(context.Background(), "w-2")
	require.NoError(t, err)
	require.NoError(t, dir.Invalidate(context.Background(), "w-2"))

	fetcher.workers["w-2"].Active = false
	refreshed, err := dir.Lookup(context.Background(), "w-2")
	require.NoError(t, err)
	assert.False(t, refreshed.Active)
	assert.Equal(t, 2, fetcher.calls)
}

func TestLookupWithoutCache(t *testing.T) {
	fetcher := &stubFetcher{workers: map[string]*repair.Worker{
		"w-1": {ID: "w-1", Name: "Nok", Department: shared.DepartmentField, Active: true},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := New(fetcher, nil, 0, logger)

	w, err := dir.Lookup(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, "Nok", w.Name)
}
