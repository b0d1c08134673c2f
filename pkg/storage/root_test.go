package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := NewRoot(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return root
}

func TestNewRoot(t *testing.T) {
	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		root, err := NewRoot(dir)
		require.NoError(t, err)

		info, err := os.Stat(root.Path())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.True(t, filepath.IsAbs(root.Path()))
	})

	t.Run("RejectsEmptyPath", func(t *testing.T) {
		_, err := NewRoot("  ")
		assert.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	root := newTestRoot(t)

	t.Run("RejectsEscapes", func(t *testing.T) {
		bad := []string{
			"..",
			"../etc/passwd",
			"docs/../../secret",
			"docs/../a.txt",
			`..\windows`,
			`docs\..\..\x`,
			"C:/Windows/system32",
			`c:\temp`,
			"a\x00b",
		}
		for _, p := range bad {
			_, err := root.Resolve(p)
			assert.ErrorIs(t, err, ErrInvalidPath, "path %q", p)
		}
	})

	t.Run("AcceptsRelativePaths", func(t *testing.T) {
		good := []string{
			"a.txt",
			"docs/report.txt",
			"docs/./report.txt",
			"docs//nested///file",
			"file with spaces.txt",
			"..hidden",
			"dots..in..name",
		}
		for _, p := range good {
			abs, err := root.Resolve(p)
			require.NoError(t, err, "path %q", p)
			assert.True(t, strings.HasPrefix(abs, root.Path()+string(filepath.Separator)), "path %q resolved to %q", p, abs)
		}
	})

	t.Run("StripsLeadingSeparators", func(t *testing.T) {
		a, err := root.Resolve("/docs/a.txt")
		require.NoError(t, err)
		b, err := root.Resolve(`\\docs\a.txt`)
		require.NoError(t, err)
		c, err := root.Resolve("docs/a.txt")
		require.NoError(t, err)

		assert.Equal(t, c, a)
		assert.Equal(t, c, b)
	})

	t.Run("EmptyIsRoot", func(t *testing.T) {
		abs, err := root.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, root.Path(), abs)

		abs, err = root.Resolve("/")
		require.NoError(t, err)
		assert.Equal(t, root.Path(), abs)
	})
}

func TestRel(t *testing.T) {
	root := newTestRoot(t)

	abs, err := root.Resolve("docs/a.txt")
	require.NoError(t, err)

	rel, err := root.Rel(abs)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.txt", rel)

	_, err = root.Rel(filepath.Dir(root.Path()))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestList(t *testing.T) {
	t.Run("EmptyRoot", func(t *testing.T) {
		root := newTestRoot(t)

		entries, err := root.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("NestedTree", func(t *testing.T) {
		root := newTestRoot(t)
		require.NoError(t, os.MkdirAll(filepath.Join(root.Path(), "docs", "old"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root.Path(), "a.txt"), []byte("a"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root.Path(), "docs", "b.txt"), []byte("b"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root.Path(), "docs", TempName("x")), nil, 0644))

		entries, err := root.List(context.Background())
		require.NoError(t, err)

		var rendered []string
		for _, e := range entries {
			rendered = append(rendered, e.String())
		}
		assert.ElementsMatch(t, []string{"a.txt", "docs/", "docs/b.txt", "docs/old/"}, rendered)
	})

	t.Run("HonoursCancellation", func(t *testing.T) {
		root := newTestRoot(t)
		require.NoError(t, os.WriteFile(filepath.Join(root.Path(), "a.txt"), nil, 0644))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := root.List(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTempName(t *testing.T) {
	name := TempName("1234")
	assert.True(t, IsTempName(name))
	assert.False(t, IsTempName("TS001.txt"))
	assert.False(t, IsTempName(".sharebox-upload-notes"))
}
