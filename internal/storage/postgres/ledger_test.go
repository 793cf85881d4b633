package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", "")
	require.Error(t, err)
	_, err = NewWithPool(mock, "posts; DROP TABLE x", "")
	require.Error(t, err)
	_, err = NewWithPool(mock, "", "1batches")
	require.Error(t, err)

	ledger, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	require.Equal(t, DefaultTable, ledger.table)
	require.Equal(t, DefaultBatchTable, ledger.batchTable)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "archives", "batches")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS archives").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS batches").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "post_archives", "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entry := archive.Entry{
		BatchID:     "batch-1",
		Field:       "Post1",
		StudentID:   "123",
		TargetURL:   "https://blog.example/123",
		OK:          false,
		ErrorText:   "too many redirections",
		StatusCode:  302,
		Hops:        16,
		Content:     []byte("ERROR too many redirections"),
		ContentHash: "sha256:abc",
		ArchivedAt:  now,
	}

	mock.ExpectExec("INSERT INTO post_archives").
		WithArgs(
			entry.BatchID,
			entry.Field,
			entry.StudentID,
			entry.TargetURL,
			entry.OK,
			entry.ErrorText,
			entry.StatusCode,
			entry.Hops,
			entry.ContentHash,
			len(entry.Content),
			entry.ArchivedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.Mirror(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO post_archives").WillReturnError(errors.New("connection reset"))

	err = ledger.Mirror(context.Background(), archive.Entry{BatchID: "b", StudentID: "1"})
	require.ErrorContains(t, err, "connection reset")
	require.Error(t, ledger.Mirror(context.Background(), archive.Entry{StudentID: "1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyInsertsBatchRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewWithPool(mock, "", "archive_batches")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	report := archive.Report{
		BatchID:   "batch-1",
		Field:     "Post2",
		Processed: 3,
		Succeeded: 2,
		Failed:    1,
		Started:   started,
		Finished:  started.Add(time.Minute),
	}
	mock.ExpectExec("INSERT INTO archive_batches").
		WithArgs(
			report.BatchID,
			report.Field,
			report.Processed,
			report.Succeeded,
			report.Failed,
			report.WriteErrors,
			report.MirrorErrors,
			report.Started,
			report.Finished,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.Notify(context.Background(), report))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilLedger(t *testing.T) {
	t.Parallel()

	var ledger *Ledger
	ledger.Close()
	require.Error(t, ledger.Mirror(context.Background(), archive.Entry{}))
	require.Error(t, ledger.Notify(context.Background(), archive.Report{}))
}
