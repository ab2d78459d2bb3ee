package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompute_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main")
	writeFile(t, root, "src/util.go", "package main")
	writeFile(t, root, "README.md", "# test")

	a, err := Compute(root, Options{})
	require.NoError(t, err)
	b, err := Compute(root, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.FileListHash, b.FileListHash)
	assert.Equal(t, 3, a.FileCount)
	assert.True(t, Match(a, b))
}

func TestCompute_SensitiveToAddedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	before, err := Compute(root, Options{})
	require.NoError(t, err)

	writeFile(t, root, "b.go", "package a")

	after, err := Compute(root, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, before.FileListHash, after.FileListHash)
	assert.False(t, Match(before, after))
}

func TestCompute_SensitiveToRemovedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	path := writeFile(t, root, "b.go", "package a")

	before, err := Compute(root, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	after, err := Compute(root, Options{})
	require.NoError(t, err)
	assert.False(t, Match(before, after))
	assert.Equal(t, before.FileCount-1, after.FileCount)
}

func TestCompute_SensitiveToTouch(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.go", "package a")

	before, err := Compute(root, Options{})
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	after, err := Compute(root, Options{})
	require.NoError(t, err)

	// Same file set, different freshness.
	assert.Equal(t, before.FileListHash, after.FileListHash)
	assert.False(t, Match(before, after))
}

func TestCompute_SkipsIndexAndVCSDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, ".indexd/index.db", "binary")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, "node_modules/x/index.js", "x")

	fp, err := Compute(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, fp.FileCount)
}

func TestCompute_IncludeExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "a_test.go", "package a")
	writeFile(t, root, "notes.txt", "hi")

	fp, err := Compute(root, Options{
		IncludeGlobs: []string{"*.go"},
		ExcludeGlobs: []string{"*_test.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fp.FileCount)
}

func TestMatch_VCSHeadRules(t *testing.T) {
	base := Fingerprint{FileListHash: "h", FileCount: 1, LatestMtime: 42}

	a, b := base, base
	assert.True(t, Match(a, b), "no heads on either side")

	a.VCSHead = "abc"
	b.VCSHead = ""
	assert.False(t, Match(a, b), "one side has a head")

	b.VCSHead = "abc"
	assert.True(t, Match(a, b), "heads agree")

	b.VCSHead = "def"
	assert.False(t, Match(a, b), "heads disagree")
}

func TestResolveVCSHead_SymbolicRef(t *testing.T) {
	root := t.TempDir()
	head := "0123456789abcdef0123456789abcdef01234567"
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, ".git/refs/heads/main", head+"\n")

	fp, err := Compute(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, head, fp.VCSHead)
}

func TestResolveVCSHead_Detached(t *testing.T) {
	root := t.TempDir()
	head := "89abcdef0123456789abcdef0123456789abcdef"
	writeFile(t, root, ".git/HEAD", head+"\n")

	assert.Equal(t, head, resolveVCSHead(root))
}

func TestResolveVCSHead_PackedRefs(t *testing.T) {
	root := t.TempDir()
	head := "fedcba9876543210fedcba9876543210fedcba98"
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, ".git/packed-refs",
		"# pack-refs with: peeled fully-peeled sorted\n"+head+" refs/heads/main\n")

	assert.Equal(t, head, resolveVCSHead(root))
}

func TestResolveVCSHead_WorktreeIndirection(t *testing.T) {
	base := t.TempDir()
	head := "1111111111111111111111111111111111111111"

	realGit := filepath.Join(base, "repo", ".git")
	writeFile(t, base, "repo/.git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, base, "repo/.git/refs/heads/main", head+"\n")

	worktree := filepath.Join(base, "wt")
	require.NoError(t, os.MkdirAll(worktree, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"),
		[]byte("gitdir: "+realGit+"\n"), 0o644))

	assert.Equal(t, head, resolveVCSHead(worktree))
}

func TestResolveVCSHead_NotARepo(t *testing.T) {
	assert.Equal(t, "", resolveVCSHead(t.TempDir()))
}

func TestListFiles_MatchesFingerprintSet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", "package a")
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "vendor/dep.go", "package dep")

	files, err := ListFiles(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, files)

	fp, err := Compute(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, len(files), fp.FileCount)
}
