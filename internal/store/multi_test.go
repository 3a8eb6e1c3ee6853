package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiStore_AddRejectsDuplicateKey(t *testing.T) {
	ms := NewMultiStore()
	require.NoError(t, ms.Add("main", Unavailable(nil)))

	err := ms.Add("main", Unavailable(nil))
	assert.ErrorIs(t, err, ErrStoreExists)
	assert.Equal(t, 1, ms.Len())
}

func TestMultiStore_GetAndSelect(t *testing.T) {
	ms := NewMultiStore()
	first := Unavailable(errors.New("first down"))
	second := Unavailable(errors.New("second down"))
	require.NoError(t, ms.Add("a", first))
	require.NoError(t, ms.Add("b", second))

	got, err := ms.Get("b")
	require.NoError(t, err)
	assert.Same(t, second, got)

	_, err = ms.Get("c")
	assert.ErrorIs(t, err, ErrStoreNotExists)

	got, err = ms.Select(0)
	require.NoError(t, err)
	assert.Same(t, first, got)

	_, err = ms.Select(2)
	assert.ErrorIs(t, err, ErrStoreNotExists)
	assert.Equal(t, []string{"a", "b"}, ms.Keys())
}

func TestMultiStore_ConnectedRequiresEveryMember(t *testing.T) {
	ms := NewMultiStore()
	assert.False(t, ms.Connected())
	assert.Equal(t, "no stores configured", ms.ConnectError())

	require.NoError(t, ms.Add("main", createTestStore(t)))
	assert.True(t, ms.Connected())
	assert.Equal(t, "You are successfully connected!", ms.ConnectError())

	require.NoError(t, ms.Add("replica", Unavailable(errors.New("timeout"))))
	assert.False(t, ms.Connected())
	assert.Equal(t, "replica: timeout", ms.ConnectError())
}

func TestMultiStore_ForwardsToFirstMember(t *testing.T) {
	ctx := context.Background()
	ms := NewMultiStore()
	primary := createTestStore(t)
	require.NoError(t, ms.Add("primary", primary))
	require.NoError(t, ms.Add("archive", createTestStore(t)))

	w := ms.Dispense("widgets")
	w.Set("name", "cog")
	require.NoError(t, ms.Persist(ctx, w))

	n, err := primary.Count(ctx, "widgets", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := ms.FindOne(ctx, "widgets", "WHERE name = ?", "cog")
	require.NoError(t, err)
	assert.False(t, found.IsEmpty())

	rows, err := ms.Query(ctx, "SELECT name FROM widgets")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, ms.Ping(ctx))
}

func TestMultiStore_EmptyForwardingFails(t *testing.T) {
	_, err := NewMultiStore().FindOne(context.Background(), "widgets", "")
	assert.ErrorIs(t, err, ErrStoreNotExists)
}

func TestOpenMulti(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ms, err := OpenMulti(ctx, []NamedConfig{
		{Name: "main", Config: Config{Driver: "sqlite", Path: filepath.Join(dir, "main.db")}},
		{Name: "broken", Config: Config{Driver: "nope"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close(ctx) })

	main, err := ms.Select(0)
	require.NoError(t, err)
	assert.True(t, main.Connected())
	assert.Equal(t, "main", main.Name())
	assert.False(t, ms.Connected())

	_, err = OpenMulti(ctx, []NamedConfig{
		{Name: "dup", Config: Config{Driver: "nope"}},
		{Name: "dup", Config: Config{Driver: "nope"}},
	})
	assert.ErrorIs(t, err, ErrStoreExists)
}
