package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestJobDir_IdempotentCreate(t *testing.T) {
	s := NewStore(t.TempDir())

	d1, err := s.JobDir("job-1")
	require.NoError(t, err)
	d2, err := s.JobDir("job-1")
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	st, err := os.Stat(d1)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestJobDir_RejectsTraversal(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.JobDir("../escape")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRegister_OverwritesSameName(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	dir, err := s.JobDir("job-1")
	require.NoError(t, err)
	p := writeFile(t, dir, "final_edited.mp4", "data")

	a, err := s.Register("job-1", "final_edited.mp4", "video/mp4", p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.SizeBytes)

	p = writeFile(t, dir, "final_edited.mp4", "rewritten")
	b, err := s.Register("job-1", "final_edited.mp4", "video/mp4", p)
	require.NoError(t, err)
	assert.Equal(t, int64(9), b.SizeBytes)

	got := s.List("job-1")
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].SizeBytes)
}

func TestRegister_MissingFile(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Register("job-1", "x", "video/mp4", "/does/not/exist.mp4")
	require.Error(t, err)
}

func TestSeal_FreezesArtifacts(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	dir, err := s.JobDir("job-1")
	require.NoError(t, err)
	p := writeFile(t, dir, "preview.mp4", "x")

	s.Seal("job-1")

	_, err = s.Register("job-1", "preview.mp4", "video/mp4", p)
	require.Error(t, err)
	assert.True(t, errors.IsIllegalState(err))
}

func TestList_Ordered(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	dir, err := s.JobDir("job-1")
	require.NoError(t, err)

	pa := writeFile(t, dir, "a.wav", "a")
	pb := writeFile(t, dir, "b.wav", "b")
	_, err = s.Register("job-1", "a.wav", "audio/wav", pa)
	require.NoError(t, err)
	_, err = s.Register("job-1", "b.wav", "audio/wav", pb)
	require.NoError(t, err)

	got := s.List("job-1")
	require.Len(t, got, 2)
	assert.Equal(t, "a.wav", got[0].Name)
	assert.Equal(t, "b.wav", got[1].Name)
}
