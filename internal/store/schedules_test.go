package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

func insert(t *testing.T, s *Store, records ...model.ScheduleData) {
	t.Helper()
	byID := make(map[string]model.ScheduleData, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		byID[r.Schedule.Identifier] = r
		ids = append(ids, r.Schedule.Identifier)
	}
	_, err := s.UpsertSchedules(context.Background(), ids, func(id string, _ *model.ScheduleData) model.ScheduleData {
		return byID[id]
	})
	require.NoError(t, err)
}

func identifiers(records []model.ScheduleData) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Schedule.Identifier
	}
	return out
}

func TestGetSchedule_Absent(t *testing.T) {
	s := createTestStore(t)

	got, err := s.GetSchedule(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertSchedules_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestSchedule("s1", "promo", 3, testNow.Add(-time.Hour))
	rec = rec.Triggered(model.TriggeringInfo{
		Context:   &trigger.Context{Type: "foreground", Goal: 1, Event: trigger.Event{Kind: trigger.EventForeground}},
		Date:      testNow,
		SessionID: "session-1",
	}, testNow)
	rec = rec.Prepared(model.PreparedInfo{ScheduleID: "s1", Fingerprint: "abc", TriggerSessionID: "session-1", Priority: 3}, testNow)
	insert(t, s, rec)

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.StatePrepared, got.State)
	assert.Equal(t, "promo", got.Schedule.Group)
	assert.Equal(t, 3, got.Schedule.Priority)
	assert.True(t, testNow.Equal(got.StateChangeDate))
	require.NotNil(t, got.TriggerInfo)
	assert.Equal(t, "session-1", got.TriggerInfo.SessionID)
	assert.Equal(t, trigger.EventForeground, got.TriggerInfo.Context.Event.Kind)
	require.NotNil(t, got.PreparedInfo)
	assert.Equal(t, "abc", got.PreparedInfo.Fingerprint)
	assert.Equal(t, "fg", got.Schedule.Triggers[0].ID())
}

func TestUpsertSchedules_PassesExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, createTestSchedule("s1", "", 0, testNow))

	var seen []*model.ScheduleData
	out, err := s.UpsertSchedules(ctx, []string{"s1", "s2"}, func(id string, existing *model.ScheduleData) model.ScheduleData {
		seen = append(seen, existing)
		if existing != nil {
			return existing.WithSchedule(createTestSchedule(id, "", 9, testNow).Schedule)
		}
		return createTestSchedule(id, "", 1, testNow)
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
	assert.Equal(t, []string{"s1", "s2"}, identifiers(out))

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Schedule.Priority)
}

func TestUpdateSchedule(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, createTestSchedule("s1", "", 0, testNow))

	updated, err := s.UpdateSchedule(ctx, "s1", func(d model.ScheduleData) model.ScheduleData {
		d.ExecutionCount = 4
		return d
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 4, updated.ExecutionCount)

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.ExecutionCount)

	missing, err := s.UpdateSchedule(ctx, "nope", func(d model.ScheduleData) model.ScheduleData {
		t.Error("transform must not run for a missing schedule")
		return d
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateSchedule_RejectsIdentifierChange(t *testing.T) {
	s := createTestStore(t)
	insert(t, s, createTestSchedule("s1", "", 0, testNow))

	_, err := s.UpdateSchedule(context.Background(), "s1", func(d model.ScheduleData) model.ScheduleData {
		d.Schedule.Identifier = "other"
		return d
	})
	assert.Error(t, err)
}

func TestUpdateSchedule_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, createTestSchedule("s1", "", 0, testNow))

	const workers = 10
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := s.UpdateSchedule(ctx, "s1", func(d model.ScheduleData) model.ScheduleData {
				d.ExecutionCount++
				return d
			})
			errs <- err
		}()
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.ExecutionCount)
}

func TestGetSchedules_DeterministicOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s,
		createTestSchedule("c", "", 1, testNow),
		createTestSchedule("b", "", 0, testNow.Add(time.Minute)),
		createTestSchedule("a", "", 0, testNow.Add(time.Minute)),
		createTestSchedule("z", "", 0, testNow),
	)

	all, err := s.GetSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b", "c"}, identifiers(all))
}

func TestGetSchedules_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s,
		createTestSchedule("a", "g1", 0, testNow),
		createTestSchedule("b", "g2", 0, testNow),
		createTestSchedule("c", "g1", 0, testNow),
	)

	group, err := s.GetSchedulesByGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, identifiers(group))

	byIDs, err := s.GetSchedulesByIDs(ctx, []string{"c", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, identifiers(byIDs))

	none, err := s.GetSchedulesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestDeleteSchedules(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s,
		createTestSchedule("a", "g1", 0, testNow),
		createTestSchedule("b", "g1", 0, testNow),
		createTestSchedule("c", "", 0, testNow),
	)

	require.NoError(t, s.DeleteSchedules(ctx, []string{"c", "missing"}))
	deleted, err := s.DeleteSchedulesByGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deleted)

	all, err := s.GetSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCorruptScheduleRowIsSkipped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, createTestSchedule("good", "", 0, testNow))

	_, err := s.db.Exec(`
		INSERT INTO schedules (identifier, priority, created, definition, state, state_change_date)
		VALUES ('bad', 0, 0, '{not json', 'idle', 0)
	`)
	require.NoError(t, err)

	all, err := s.GetSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, identifiers(all))

	bad, err := s.GetSchedule(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, bad)
}
