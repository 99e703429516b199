package store_test

import (
	"path/filepath"
	"testing"

	"github.com/nodehound/nodehound/internal/model"
	"github.com/nodehound/nodehound/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := store.InitDB(ctx, filepath.Join(t.TempDir(), "nodehound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	id := uuid.New().String()
	require.NoError(t, store.StartRun(ctx, db, id, []string{"10.0.0.1", "10.0.0.2"}))

	run, err := store.GetRun(ctx, db, id)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, run.Targets)
	require.Nil(t, run.FinishedAt)

	f := model.New(model.KindAnonymousAuth, "10.0.0.1", 10250)
	f.Evidence = "anonymous requests are served"
	require.NoError(t, store.InsertFinding(ctx, db, id, f))

	require.NoError(t, store.FinishRun(ctx, db, id, 1))
	run, err = store.GetRun(ctx, db, id)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, 1, run.Findings)

	rows, err := store.ListFindings(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Anonymous Authentication", rows[0].Name)
	require.Equal(t, "KHV036", rows[0].KHV)
	require.Equal(t, "Anonymous Authentication (KHV036) on 10.0.0.1:10250", rows[0].String())
}

func TestFinishRunTwice(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := store.InitDB(ctx, filepath.Join(t.TempDir(), "nodehound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	id := uuid.New().String()
	require.NoError(t, store.StartRun(ctx, db, id, nil))
	require.NoError(t, store.FinishRun(ctx, db, id, 0))
	require.ErrorIs(t, store.FinishRun(ctx, db, id, 0), store.ErrAlreadyFinished)
}

func TestFinishUnknownRun(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := store.InitDB(ctx, filepath.Join(t.TempDir(), "nodehound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.ErrorIs(t, store.FinishRun(ctx, db, "no-such-run", 0), store.ErrNotFound)
	_, err = store.GetRun(ctx, db, "no-such-run")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFindingsEmpty(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := store.InitDB(ctx, filepath.Join(t.TempDir(), "nodehound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := store.ListFindings(ctx, db, "nothing")
	require.NoError(t, err)
	require.Empty(t, rows)
}
