package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/pkg/infra/pool"
)

type fakeClient struct {
	name    string
	pingErr error
	closed  bool
}

func (f *fakeClient) Name() string                 { return f.name }
func (f *fakeClient) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeClient) Close() error                 { f.closed = true; return nil }

func TestManager_Register(t *testing.T) {
	m := NewManager(nil)

	require.NoError(t, m.Register("cache", &fakeClient{name: "redis"}))
	assert.ErrorIs(t, m.Register("cache", &fakeClient{name: "redis"}), ErrClientAlreadyExists)
	assert.ErrorIs(t, m.Register("", &fakeClient{}), ErrInvalidConfig)
	assert.ErrorIs(t, m.Register("nil", nil), ErrInvalidConfig)

	c, err := m.Get("cache")
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Name())

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestManager_HealthCheckAll(t *testing.T) {
	checks, err := pool.NewPool("health", pool.HealthCheckPool, pool.HealthCheckPoolConfig())
	require.NoError(t, err)
	defer checks.Release()

	m := NewManager(checks)
	require.NoError(t, m.Register("catalog", &fakeClient{name: "sqlite"}))
	require.NoError(t, m.Register("cache", &fakeClient{name: "redis", pingErr: errors.New("refused")}))

	statuses := m.HealthCheckAll(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses["catalog"].Healthy)
	assert.False(t, statuses["cache"].Healthy)
	assert.EqualError(t, statuses["cache"].Error, "refused")
	assert.Equal(t, []string{"cache", "catalog"}, m.List())
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(nil)
	a, b := &fakeClient{name: "a"}, &fakeClient{name: "b"}
	require.NoError(t, m.Register("a", a))
	require.NoError(t, m.Register("b", b))

	require.NoError(t, m.CloseAll())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, m.List())
}

func TestStorageError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrConnectionFailed.WithCause(cause)

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CONNECTION_FAILED")

	se, ok := GetStorageError(err)
	require.True(t, ok)
	assert.Equal(t, "CONNECTION_FAILED", se.Code)
}
