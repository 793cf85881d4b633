package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestListRecordsFiltersAndParses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "s100001.json", `{"Matricola":"100001","Post1":"http://a.example/1"}`)
	writeFile(t, dir, "s100002.json", `{"Matricola":100002,"Post1":"http://b.example/2","Post2":"http://b.example/x"}`)
	writeFile(t, dir, "s100003.json", `{"Matricola":"100003","Post2":"http://c.example/3"}`)
	writeFile(t, dir, "s100004.json", `{not json`)
	writeFile(t, dir, "s180975.json", `{"Matricola":"180975","Post1":"http://operator.example"}`)
	writeFile(t, dir, "notes.txt", `{"Matricola":"1","Post1":"http://txt.example"}`)
	writeFile(t, dir, "s100005.json", `{"Matricola":"../etc","Post1":"http://evil.example"}`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.json"), 0o750))

	src, err := New(Config{Dir: dir, Exclude: []string{"s180975.json", "s178682.json"}}, nil)
	require.NoError(t, err)

	recs, err := src.ListRecords(context.Background(), "Post1")
	require.NoError(t, err)
	assert.Equal(t, []archive.Record{
		{ID: "100001", TargetURL: "http://a.example/1", Source: "s100001.json"},
		{ID: "100002", TargetURL: "http://b.example/2", Source: "s100002.json"},
	}, recs)
}

func TestListRecordsCustomIDKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"id":"7","Post3":"https://blog.example/post"}`)

	src, err := New(Config{Dir: dir, IDKey: "id"}, nil)
	require.NoError(t, err)

	recs, err := src.ListRecords(context.Background(), "Post3")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "7", recs[0].ID)
}

func TestListRecordsMissingDirIsFatal(t *testing.T) {
	t.Parallel()

	src, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	require.NoError(t, err)

	_, err = src.ListRecords(context.Background(), "Post1")
	assert.Error(t, err)
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestListRecordsRequiresField(t *testing.T) {
	t.Parallel()

	src, err := New(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = src.ListRecords(context.Background(), "")
	assert.Error(t, err)
}
