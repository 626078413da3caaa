// Package mocks holds testify mocks for interfaces shared across packages.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCacheManager is a mock cachemanager.CacheManager.
type MockCacheManager[K comparable, V any] struct {
	mock.Mock
}

// NewMockCacheManager creates a mock whose expectations are asserted when
// the test ends.
func NewMockCacheManager[K comparable, V any](t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCacheManager[K, V] {
	m := &MockCacheManager[K, V]{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func value[V any](args mock.Arguments, i int) V {
	var zero V
	if v, ok := args.Get(i).(V); ok {
		return v
	}
	return zero
}

func (m *MockCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	args := m.Called(ctx, key)
	return value[V](args, 0), args.Bool(1)
}

func (m *MockCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	args := m.Called(ctx, key, ttl)
	return value[V](args, 0), args.Bool(1)
}

func (m *MockCacheManager[K, V]) Set(ctx context.Context, key K, v V, ttl time.Duration) {
	m.Called(ctx, key, v, ttl)
}

func (m *MockCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *MockCacheManager[K, V]) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
