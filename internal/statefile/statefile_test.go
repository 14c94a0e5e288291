package statefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Route string         `json:"route"`
	Count int            `json:"count"`
	Keys  map[string]int `json:"keys,omitempty"`
}

func TestLoadMissingReturnsZero(t *testing.T) {
	f := New[doc](t.TempDir(), "state.json")

	v, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, doc{}, v)
	assert.False(t, f.Exists())
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	f := New[doc](dir, "state.json")

	require.NoError(t, f.Save(doc{Route: "/client/bookings", Count: 2}))
	assert.True(t, f.Exists())

	info, err := os.Stat(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	v, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "/client/bookings", v.Route)
	assert.Equal(t, 2, v.Count)
}

func TestLoadCorruptReturnsZero(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{broken"), 0600))

	v, err := New[doc](dir, "state.json").Load()
	require.NoError(t, err)
	assert.Equal(t, doc{}, v)
}

func TestUpdateReadModifyWrite(t *testing.T) {
	f := New[doc](t.TempDir(), "state.json")

	for range 3 {
		require.NoError(t, f.Update(func(d *doc) error {
			d.Count++
			if d.Keys == nil {
				d.Keys = make(map[string]int)
			}
			d.Keys["calls"]++
			return nil
		}))
	}

	v, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, v.Count)
	assert.Equal(t, 3, v.Keys["calls"])
}

func TestUpdateErrorLeavesFileUntouched(t *testing.T) {
	f := New[doc](t.TempDir(), "state.json")
	require.NoError(t, f.Save(doc{Route: "/login"}))

	err := f.Update(func(d *doc) error {
		d.Route = "/admin"
		return errors.New("boom")
	})
	require.Error(t, err)

	v, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "/login", v.Route)
}

func TestClear(t *testing.T) {
	f := New[doc](t.TempDir(), "state.json")
	require.NoError(t, f.Save(doc{Route: "/login"}))
	require.NoError(t, f.Clear())
	assert.False(t, f.Exists())

	// Clearing twice is a no-op
	require.NoError(t, f.Clear())
}
