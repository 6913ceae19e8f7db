package disk

import (
	"errors"
	"path/filepath"
	"testing"

	"dbcore/dberr"
	"dbcore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileManager(t *testing.T) {
	t.Run("Allocate hands out monotonically increasing ids and a fresh page reads as zeros", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.db")
		mgr, err := NewFileManager(path, 64)
		require.NoError(t, err)
		t.Cleanup(func() { mgr.Close() })

		a, err := mgr.Allocate()
		require.NoError(t, err)
		b, err := mgr.Allocate()
		require.NoError(t, err)
		assert.Equal(t, a+1, b)

		buf := make([]byte, 64)
		require.NoError(t, mgr.ReadPage(a, buf))
		assert.Equal(t, make([]byte, 64), buf)
	})

	t.Run("WritePage then ReadPage round-trips the bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.db")
		mgr, err := NewFileManager(path, 16)
		require.NoError(t, err)
		t.Cleanup(func() { mgr.Close() })

		id, err := mgr.Allocate()
		require.NoError(t, err)
		want := []byte("0123456789abcdef")
		require.NoError(t, mgr.WritePage(id, want))

		got := make([]byte, 16)
		require.NoError(t, mgr.ReadPage(id, got))
		assert.Equal(t, want, got)
	})

	t.Run("reopening the file resumes page allocation from the file size", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.db")
		mgr, err := NewFileManager(path, 32)
		require.NoError(t, err)
		id, err := mgr.Allocate()
		require.NoError(t, err)
		require.NoError(t, mgr.WritePage(id, make([]byte, 32)))
		require.NoError(t, mgr.Close())

		reopened, err := NewFileManager(path, 32)
		require.NoError(t, err)
		t.Cleanup(func() { reopened.Close() })

		next, err := reopened.Allocate()
		require.NoError(t, err)
		assert.Equal(t, id+1, next)
	})

	t.Run("a wrong-sized buffer is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.db")
		mgr, err := NewFileManager(path, 32)
		require.NoError(t, err)
		t.Cleanup(func() { mgr.Close() })

		assert.Error(t, mgr.WritePage(0, make([]byte, 16)))
		assert.Error(t, mgr.ReadPage(0, make([]byte, 16)))
	})

	t.Run("Allocate past SetMaxPages fails with ErrOutOfStorage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.db")
		mgr, err := NewFileManager(path, 32)
		require.NoError(t, err)
		t.Cleanup(func() { mgr.Close() })
		mgr.SetMaxPages(2)

		_, err = mgr.Allocate()
		require.NoError(t, err)
		_, err = mgr.Allocate()
		require.NoError(t, err)

		_, err = mgr.Allocate()
		assert.True(t, errors.Is(err, dberr.ErrOutOfStorage))
	})
}

func TestMemManager(t *testing.T) {
	t.Run("WritePage then ReadPage round-trips the bytes", func(t *testing.T) {
		mgr := NewMemManager(16)
		id, err := mgr.Allocate()
		require.NoError(t, err)

		want := []byte("abcdefghijklmnop")
		require.NoError(t, mgr.WritePage(id, want))

		got := make([]byte, 16)
		require.NoError(t, mgr.ReadPage(id, got))
		assert.Equal(t, want, got)
	})

	t.Run("reading an unallocated page yields zeros, not an error", func(t *testing.T) {
		mgr := NewMemManager(8)
		got := make([]byte, 8)
		require.NoError(t, mgr.ReadPage(types.PageID(5), got))
		assert.Equal(t, make([]byte, 8), got)
	})

	t.Run("Deallocate removes the page; deallocating an unknown page errors", func(t *testing.T) {
		mgr := NewMemManager(8)
		id, err := mgr.Allocate()
		require.NoError(t, err)
		require.NoError(t, mgr.Deallocate(id))
		err = mgr.Deallocate(id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, dberr.ErrNotFound))
	})

	t.Run("Allocate past SetMaxPages fails with ErrOutOfStorage", func(t *testing.T) {
		mgr := NewMemManager(8)
		mgr.SetMaxPages(1)

		_, err := mgr.Allocate()
		require.NoError(t, err)

		_, err = mgr.Allocate()
		assert.True(t, errors.Is(err, dberr.ErrOutOfStorage))
	})
}
