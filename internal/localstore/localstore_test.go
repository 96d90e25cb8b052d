package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_SetGetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	f, err := OpenFile(path)
	require.NoError(t, err)

	_, ok, err := f.Get("cart")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Set("cart", `[{"quantity":1}]`))
	require.NoError(t, f.Set("last_order_id", "abc"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get("cart")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"quantity":1}]`, v)
}

func TestFile_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	f, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Set("session", "tok"))
	require.NoError(t, f.Delete("session"))
	require.NoError(t, f.Delete("never-set"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	_, ok, _ := reopened.Get("session")
	assert.False(t, ok)
}

func TestOpenFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set("k", "v"))
	v, ok, err := m.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Delete("k"))
	_, ok, _ = m.Get("k")
	assert.False(t, ok)
}
