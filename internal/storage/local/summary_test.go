package local_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
)

func readSummary(t *testing.T, dir string) string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, local.SummaryFileName))
	require.NoError(t, err)
	return string(data)
}

func TestSummaryHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	sum, err := local.CreateSummary(dir, "Post2")
	require.NoError(t, err)

	assert.Equal(t, "Matricola,Post2\n", readSummary(t, dir))

	require.NoError(t, sum.Append(archive.SummaryRow{ID: "1", TargetURL: "http://a.example/1"}))
	// Rows are visible on disk as soon as Append returns.
	assert.Equal(t, "Matricola,Post2\n1,http://a.example/1\n", readSummary(t, dir))

	require.NoError(t, sum.Append(archive.SummaryRow{ID: "2", TargetURL: "http://b.example/?a=1,2"}))
	require.NoError(t, sum.Close())

	assert.Equal(t,
		"Matricola,Post2\n1,http://a.example/1\n2,\"http://b.example/?a=1,2\"\n",
		readSummary(t, dir))

	rows, err := csv.NewReader(strings.NewReader(readSummary(t, dir))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Matricola", "Post2"},
		{"1", "http://a.example/1"},
		{"2", "http://b.example/?a=1,2"},
	}, rows)
}

func TestSummaryTruncatesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, local.SummaryFileName), []byte("stale\nrows\nhere\n"), 0o600))

	sum, err := local.CreateSummary(dir, "Post1")
	require.NoError(t, err)
	require.NoError(t, sum.Close())
	assert.Equal(t, "Matricola,Post1\n", readSummary(t, dir))
}

func TestCreateSummaryMissingDir(t *testing.T) {
	_, err := local.CreateSummary(filepath.Join(t.TempDir(), "missing"), "Post1")
	assert.Error(t, err)
}
