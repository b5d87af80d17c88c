package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
	"campusevents/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(store.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestRepository_UpsertGetAndUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db.Client)
	ctx := context.Background()

	capacity := 120
	evt := Event{
		ID:                "evt-1",
		Name:              "Guest Lecture",
		Type:              "lecture",
		Venue:             "Main Auditorium",
		VenueCapacity:     &capacity,
		RegistrationMode:  "individual",
		RegistrationStart: at(time.Hour),
		RegistrationEnd:   at(2 * time.Hour),
		Start:             at(3 * time.Hour),
		End:               at(5 * time.Hour),
		Status:            StatusUpcoming,
		SubStatus:         SubRegistrationNotStarted,
	}
	require.NoError(t, repo.Upsert(ctx, evt))

	got, err := repo.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Guest Lecture", got.Name)
	require.NotNil(t, got.VenueCapacity)
	assert.Equal(t, 120, *got.VenueCapacity)
	require.NotNil(t, got.Start)
	assert.True(t, got.Start.Equal(*evt.Start))
	assert.Nil(t, got.CertificateEnd)

	require.NoError(t, repo.UpdateStatus(ctx, "evt-1", StatusOngoing, SubEventStarted))
	got, err = repo.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOngoing, got.Status)
	assert.Equal(t, SubEventStarted, got.SubStatus)
}

func TestRepository_NotFound(t *testing.T) {
	repo := NewRepository(newTestDB(t).Client)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = repo.UpdateStatus(ctx, "missing", StatusOngoing, SubEventStarted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_FindPendingSkipsTerminalAndDrafts(t *testing.T) {
	repo := NewRepository(newTestDB(t).Client)
	ctx := context.Background()

	for _, e := range []Event{
		{ID: "a", Name: "a", Status: StatusUpcoming, SubStatus: SubRegistrationOpen},
		{ID: "b", Name: "b", Status: StatusOngoing, SubStatus: SubEventStarted},
		{ID: "c", Name: "c", Status: StatusCompleted, SubStatus: SubEventCompleted},
		{ID: "d", Name: "d", Status: StatusDraft, SubStatus: SubRegistrationNotStarted},
	} {
		require.NoError(t, repo.Upsert(ctx, e))
	}

	pending, err := repo.FindPending(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestStatusLog_RecordAndList(t *testing.T) {
	log := NewStatusLog(newTestDB(t).Client)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, Transition{
		EventID: "evt-1", OldStatus: StatusUpcoming, NewStatus: StatusUpcoming,
		OldSub: SubRegistrationNotStarted, NewSub: SubRegistrationOpen,
		Source: "scheduler", ChangedAt: base,
	}))
	require.NoError(t, log.Record(ctx, Transition{
		EventID: "evt-1", OldStatus: StatusUpcoming, NewStatus: StatusOngoing,
		OldSub: SubRegistrationOpen, NewSub: SubEventStarted,
		Source: "manual", ChangedAt: base.Add(time.Hour),
	}))

	got, err := log.List(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, SubRegistrationOpen, got[0].NewSub)
	assert.Equal(t, "manual", got[1].Source)
	assert.NotEmpty(t, got[0].ID)
}
