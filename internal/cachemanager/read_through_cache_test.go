package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/plugboard/internal/mocks"
)

type fileMarker struct {
	Plug   string
	Socket string
}

func markersFor(calls *int) func(context.Context, string) ([]fileMarker, error) {
	return func(_ context.Context, path string) ([]fileMarker, error) {
		*calls++
		return []fileMarker{{Plug: path + ".Circle", Socket: "shapes.Shape"}}, nil
	}
}

func TestReadThroughCache_Get_WithCacheDisabled(t *testing.T) {
	managerMock := mocks.NewMockCacheManager[string, []fileMarker](t)
	calls := 0
	rt := NewReadThroughCache[string, []fileMarker, string](managerMock, markersFor(&calls), true)

	got, err := rt.Get(context.Background(), "key", "shapes", time.Minute)
	require.NoError(t, err)
	require.Equal(t, []fileMarker{{Plug: "shapes.Circle", Socket: "shapes.Shape"}}, got)
	require.Equal(t, 1, calls)
	require.Equal(t, Stats{Misses: 1}, rt.Stats())
	managerMock.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	managerMock.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_Get_WithValueInCache(t *testing.T) {
	managerMock := mocks.NewMockCacheManager[string, []fileMarker](t)
	cached := []fileMarker{{Plug: "cached.Square", Socket: "shapes.Shape"}}
	managerMock.On("Get", mock.Anything, "key").Return(cached, true)

	calls := 0
	rt := NewReadThroughCache[string, []fileMarker, string](managerMock, markersFor(&calls), false)

	got, err := rt.Get(context.Background(), "key", "shapes", time.Minute)
	require.NoError(t, err)
	require.Equal(t, cached, got)
	require.Zero(t, calls)
	require.Equal(t, Stats{Hits: 1}, rt.Stats())
}

func TestReadThroughCache_Get_MissStoresValue(t *testing.T) {
	managerMock := mocks.NewMockCacheManager[string, []fileMarker](t)
	want := []fileMarker{{Plug: "shapes.Circle", Socket: "shapes.Shape"}}
	managerMock.On("Get", mock.Anything, "key").Return(nil, false)
	managerMock.On("Set", mock.Anything, "key", want, time.Minute).Return()

	calls := 0
	rt := NewReadThroughCache[string, []fileMarker, string](managerMock, markersFor(&calls), false)

	got, err := rt.Get(context.Background(), "key", "shapes", time.Minute)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 1, calls)
	require.Equal(t, Stats{Misses: 1}, rt.Stats())
}

func TestReadThroughCache_Get_ErrorNotCached(t *testing.T) {
	managerMock := mocks.NewMockCacheManager[string, []fileMarker](t)
	managerMock.On("Get", mock.Anything, "key").Return(nil, false)

	rt := NewReadThroughCache[string, []fileMarker, string](
		managerMock,
		func(context.Context, string) ([]fileMarker, error) { return nil, errors.New("parse failed") },
		false,
	)

	_, err := rt.Get(context.Background(), "key", "shapes", time.Minute)
	require.EqualError(t, err, "parse failed")
	managerMock.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_GetWithRefresh_WithValueInCache(t *testing.T) {
	managerMock := mocks.NewMockCacheManager[string, []fileMarker](t)
	cached := []fileMarker{{Plug: "cached.Square"}}
	managerMock.On("GetWithRefresh", mock.Anything, "key", time.Hour).Return(cached, true)

	calls := 0
	rt := NewReadThroughCache[string, []fileMarker, string](managerMock, markersFor(&calls), false)

	got, err := rt.GetWithRefresh(context.Background(), "key", "shapes", time.Hour)
	require.NoError(t, err)
	require.Equal(t, cached, got)
	require.Zero(t, calls)
}

func TestReadThroughCache_WithRealManager(t *testing.T) {
	cache := NewInMemoryCacheManager[string, []fileMarker]("markers", DefaultExpiration, DefaultCleanupInterval)
	calls := 0
	rt := NewReadThroughCache[string, []fileMarker, string](cache, markersFor(&calls), false)

	for i := 0; i < 3; i++ {
		_, err := rt.Get(context.Background(), "circle.go|42|1700000000", "shapes", NoExpiration)
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)

	hits, misses := cache.Stats()
	require.Equal(t, int64(2), hits)
	require.Equal(t, int64(1), misses)
	require.Equal(t, Stats{Hits: 2, Misses: 1}, rt.Stats())
}
