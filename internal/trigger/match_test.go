package trigger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/jsonmatch"
)

func foreground() Event { return Event{Kind: EventForeground} }
func background() Event { return Event{Kind: EventBackground} }

func customEvent(data string, value *float64) Event {
	return Event{Kind: EventCustom, Data: json.RawMessage(data), Value: value}
}

func ptr[T any](v T) *T { return &v }

func TestEventTrigger_GoalMonotonicity(t *testing.T) {
	tr := NewEvent("fg", TypeForeground, 3, nil)
	data := NewData("s1", "fg")

	for i := 1; i <= 2; i++ {
		res := tr.Match(foreground(), data, MatchOptions{})
		require.NotNil(t, res)
		assert.False(t, res.IsTriggered, "event %d", i)
		assert.Equal(t, float64(i), data.Count)
	}

	res := tr.Match(foreground(), data, MatchOptions{})
	require.NotNil(t, res)
	assert.True(t, res.IsTriggered)
	assert.Equal(t, "fg", res.TriggerID)

	// Without reset the count keeps climbing.
	res = tr.Match(foreground(), data, MatchOptions{})
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 4.0, data.Count)
}

func TestEventTrigger_ResetOnTrigger(t *testing.T) {
	tr := NewEvent("fg", TypeForeground, 2, nil)
	data := NewData("s1", "fg")
	opts := MatchOptions{ResetOnTrigger: true}

	assert.False(t, tr.Match(foreground(), data, opts).IsTriggered)
	assert.True(t, tr.Match(foreground(), data, opts).IsTriggered)
	assert.Equal(t, 0.0, data.Count)

	// A full goal's worth of increments is needed again.
	assert.False(t, tr.Match(foreground(), data, opts).IsTriggered)
	assert.True(t, tr.Match(foreground(), data, opts).IsTriggered)
}

func TestEventTrigger_IgnoresOtherTypes(t *testing.T) {
	tr := NewEvent("fg", TypeForeground, 1, nil)
	data := NewData("s1", "fg")

	assert.Nil(t, tr.Match(background(), data, MatchOptions{}))
	assert.Nil(t, tr.Match(customEvent(`{}`, nil), data, MatchOptions{}))
	assert.Equal(t, 0.0, data.Count)
}

func TestEventTrigger_CustomEvents(t *testing.T) {
	pred, err := jsonmatch.Parse([]byte(`{"key":"name","value":{"equals":"purchase"}}`))
	require.NoError(t, err)

	t.Run("count", func(t *testing.T) {
		tr := NewEvent("c", TypeCustomEventCount, 2, pred)
		data := NewData("s1", "c")

		assert.Nil(t, tr.Match(customEvent(`{"name":"view"}`, ptr(10.0)), data, MatchOptions{}))
		assert.False(t, tr.Match(customEvent(`{"name":"purchase"}`, ptr(10.0)), data, MatchOptions{}).IsTriggered)
		assert.Equal(t, 1.0, data.Count)
	})

	t.Run("value", func(t *testing.T) {
		tr := NewEvent("v", TypeCustomEventValue, 20, pred)
		data := NewData("s1", "v")

		assert.False(t, tr.Match(customEvent(`{"name":"purchase"}`, ptr(12.5)), data, MatchOptions{}).IsTriggered)
		assert.Equal(t, 12.5, data.Count)
		assert.True(t, tr.Match(customEvent(`{"name":"purchase"}`, ptr(7.5)), data, MatchOptions{}).IsTriggered)
	})

	t.Run("value defaults to one", func(t *testing.T) {
		tr := NewEvent("v", TypeCustomEventValue, 5, nil)
		data := NewData("s1", "v")

		tr.Match(customEvent(`{}`, nil), data, MatchOptions{})
		assert.Equal(t, 1.0, data.Count)
	})
}

func TestEventTrigger_ScreenPredicate(t *testing.T) {
	pred, err := jsonmatch.Parse([]byte(`{"value":{"equals":"home"}}`))
	require.NoError(t, err)
	tr := NewEvent("sc", TypeScreen, 1, pred)
	data := NewData("s1", "sc")

	assert.Nil(t, tr.Match(Event{Kind: EventScreenView, Screen: "settings"}, data, MatchOptions{}))
	assert.True(t, tr.Match(Event{Kind: EventScreenView, Screen: "home"}, data, MatchOptions{}).IsTriggered)
}

func TestEventTrigger_StateTriggersAreEdgeTriggered(t *testing.T) {
	t.Run("active session", func(t *testing.T) {
		tr := NewEvent("as", TypeActiveSession, 5, nil)
		data := NewData("s1", "as")

		ev := StateChanged(TriggerableState{AppSessionID: "session-1"})
		require.NotNil(t, tr.Match(ev, data, MatchOptions{}))
		assert.Nil(t, tr.Match(ev, data, MatchOptions{}), "repeated state must not count")
		assert.Equal(t, 1.0, data.Count)

		require.NotNil(t, tr.Match(StateChanged(TriggerableState{AppSessionID: "session-2"}), data, MatchOptions{}))
		assert.Equal(t, 2.0, data.Count)
		assert.Equal(t, "session-2", data.LastTriggerableState.AppSessionID)
	})

	t.Run("version", func(t *testing.T) {
		pred, err := jsonmatch.Parse([]byte(`{"value":{"string_begins":"2."}}`))
		require.NoError(t, err)
		tr := NewEvent("v", TypeVersion, 1, pred)
		data := NewData("s1", "v")

		assert.Nil(t, tr.Match(StateChanged(TriggerableState{VersionUpdated: "1.9.0"}), data, MatchOptions{}))
		assert.Equal(t, "1.9.0", data.LastTriggerableState.VersionUpdated)

		res := tr.Match(StateChanged(TriggerableState{VersionUpdated: "2.0.0"}), data, MatchOptions{})
		require.NotNil(t, res)
		assert.True(t, res.IsTriggered)

		assert.Nil(t, tr.Match(StateChanged(TriggerableState{VersionUpdated: "2.0.0"}), data, MatchOptions{}))
	})
}

func twoChildren(typ CompoundType, goal float64, a, b Child) Trigger {
	return NewCompound("parent", typ, goal, a, b)
}

func TestCompound_And(t *testing.T) {
	tr := twoChildren(CompoundAnd, 1,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeBackground, 1, nil)},
	)
	data := NewData("s1", "parent")

	res := tr.Match(foreground(), data, MatchOptions{})
	require.NotNil(t, res)
	assert.False(t, res.IsTriggered)
	assert.Equal(t, 0.0, data.Count)
	assert.Equal(t, 1.0, data.Children["a"].Count)

	res = tr.Match(background(), data, MatchOptions{})
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 1.0, data.Count)
	assert.Equal(t, 0.0, data.Children["a"].Count)
	assert.Equal(t, 0.0, data.Children["b"].Count)
}

func TestCompound_AndStickyChildKeepsProgress(t *testing.T) {
	tr := twoChildren(CompoundAnd, 2,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil), IsSticky: true},
		Child{Trigger: NewEvent("b", TypeBackground, 1, nil)},
	)
	data := NewData("s1", "parent")

	tr.Match(foreground(), data, MatchOptions{})
	tr.Match(background(), data, MatchOptions{})
	assert.Equal(t, 1.0, data.Count)
	assert.Equal(t, 1.0, data.Children["a"].Count)
	assert.Equal(t, 0.0, data.Children["b"].Count)

	// The sticky child still counts, so one more background completes the goal.
	res := tr.Match(background(), data, MatchOptions{})
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 2.0, data.Count)
}

func TestCompound_Or(t *testing.T) {
	tr := twoChildren(CompoundOr, 2,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeBackground, 1, nil)},
	)
	data := NewData("s1", "parent")

	res := tr.Match(foreground(), data, MatchOptions{})
	assert.False(t, res.IsTriggered)
	assert.Equal(t, 1.0, data.Count)
	assert.Equal(t, 0.0, data.Children["a"].Count)

	res = tr.Match(background(), data, MatchOptions{})
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 2.0, data.Count)
}

func TestCompound_OrResetOnIncrement(t *testing.T) {
	tr := twoChildren(CompoundOr, 5,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeBackground, 3, nil), ResetOnIncrement: true},
	)
	data := NewData("s1", "parent")

	tr.Match(background(), data, MatchOptions{})
	assert.Equal(t, 1.0, data.Children["b"].Count)

	tr.Match(foreground(), data, MatchOptions{})
	assert.Equal(t, 1.0, data.Count)
	assert.Equal(t, 0.0, data.Children["b"].Count, "reset_on_increment child is cleared")
}

func TestCompound_ChainRequiresOrder(t *testing.T) {
	tr := twoChildren(CompoundChain, 1,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeBackground, 1, nil)},
	)
	data := NewData("s1", "parent")

	tr.Match(background(), data, MatchOptions{})
	assert.Equal(t, 0.0, data.Children["b"].Count, "out-of-order event is ignored")

	tr.Match(foreground(), data, MatchOptions{})
	res := tr.Match(background(), data, MatchOptions{})
	assert.True(t, res.IsTriggered)
}

func TestCompound_ChainReplaysCachedState(t *testing.T) {
	tr := twoChildren(CompoundChain, 1,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeActiveSession, 1, nil)},
	)
	data := NewData("s1", "parent")
	opts := MatchOptions{CachedState: &TriggerableState{AppSessionID: "session-1"}}

	res := tr.Match(foreground(), data, opts)
	require.NotNil(t, res)
	assert.True(t, res.IsTriggered, "session child advances from cached state")
}

func TestCompound_ResetOnTriggerOnlyResetsParent(t *testing.T) {
	tr := twoChildren(CompoundOr, 1,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: NewEvent("b", TypeBackground, 2, nil)},
	)
	data := NewData("s1", "parent")
	tr.Match(background(), data, MatchOptions{})

	res := tr.Match(foreground(), data, MatchOptions{ResetOnTrigger: true})
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 0.0, data.Count)
	assert.Equal(t, 1.0, data.Children["b"].Count)
}

func TestPrune_DropsStaleChildren(t *testing.T) {
	nested := NewCompound("inner", CompoundAnd, 1,
		Child{Trigger: NewEvent("x", TypeForeground, 1, nil)},
	)
	tr := NewCompound("outer", CompoundOr, 1,
		Child{Trigger: NewEvent("a", TypeForeground, 1, nil)},
		Child{Trigger: nested},
	)
	data := &Data{
		ScheduleID: "s1",
		TriggerID:  "outer",
		Children: map[string]*Data{
			"a":     {TriggerID: "a", Count: 1},
			"stale": {TriggerID: "stale", Count: 4},
			"inner": {TriggerID: "inner", Children: map[string]*Data{
				"x":   {TriggerID: "x"},
				"old": {TriggerID: "old"},
			}},
		},
	}

	tr.Prune(data)

	assert.Len(t, data.Children, 2)
	assert.Contains(t, data.Children, "a")
	assert.NotContains(t, data.Children, "stale")
	assert.Equal(t, []string{"x"}, keys(data.Children["inner"].Children))
}

func keys(m map[string]*Data) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestData_CloneIsDeep(t *testing.T) {
	d := &Data{
		TriggerID:            "p",
		Children:             map[string]*Data{"a": {TriggerID: "a", Count: 1}},
		LastTriggerableState: &TriggerableState{AppSessionID: "s"},
	}
	c := d.Clone()
	c.Children["a"].Count = 5
	c.LastTriggerableState.AppSessionID = "other"

	assert.Equal(t, 1.0, d.Children["a"].Count)
	assert.Equal(t, "s", d.LastTriggerableState.AppSessionID)
}
