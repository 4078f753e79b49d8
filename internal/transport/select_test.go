package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
)

func TestSelectDirectWhenReachable(t *testing.T) {
	closed := false
	open := func(context.Context, mirror.PostgresConfig) (mirror.ClassWriter, func(), error) {
		return mirror.NewMemoryStore(), func() { closed = true }, nil
	}

	sel, err := Select(context.Background(), SelectConfig{
		Mirror: mirror.PostgresConfig{DSN: "postgres://mirror"},
		HTTP:   HTTPConfig{URL: "http://localhost/api/sync"},
	}, open)
	require.NoError(t, err)
	assert.Equal(t, NameDirect, sel.Mode())
	assert.NotNil(t, sel.API)
	assert.Equal(t, DefaultDirectChunkSize, sel.Direct.ChunkSize())

	sel.Close()
	assert.True(t, closed)
}

func TestSelectHTTPWhenUnreachable(t *testing.T) {
	open := func(context.Context, mirror.PostgresConfig) (mirror.ClassWriter, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	sel, err := Select(context.Background(), SelectConfig{
		Mirror: mirror.PostgresConfig{DSN: "postgres://mirror"},
		HTTP:   HTTPConfig{URL: "http://localhost/api/sync"},
	}, open)
	require.NoError(t, err)
	assert.Equal(t, NameHTTP, sel.Mode())
	assert.Nil(t, sel.Direct)
	sel.Close()
}

func TestSelectHTTPWithoutDSN(t *testing.T) {
	called := false
	open := func(context.Context, mirror.PostgresConfig) (mirror.ClassWriter, func(), error) {
		called = true
		return mirror.NewMemoryStore(), func() {}, nil
	}

	sel, err := Select(context.Background(), SelectConfig{HTTP: HTTPConfig{URL: "http://x/api/sync"}}, open)
	require.NoError(t, err)
	assert.Equal(t, NameHTTP, sel.Mode())
	assert.False(t, called)
}

func TestSelectNoTransport(t *testing.T) {
	open := func(context.Context, mirror.PostgresConfig) (mirror.ClassWriter, func(), error) {
		return nil, nil, errors.New("down")
	}
	_, err := Select(context.Background(), SelectConfig{Mirror: mirror.PostgresConfig{DSN: "postgres://x"}}, open)
	assert.ErrorIs(t, err, ErrNoTransport)
}
