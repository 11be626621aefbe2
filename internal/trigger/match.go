package trigger

// MatchResult is the outcome of evaluating an event against a trigger.
type MatchResult struct {
	TriggerID   string
	IsTriggered bool
}

// MatchOptions controls a single evaluation.
type MatchOptions struct {
	// ResetOnTrigger zeroes the trigger's count right after it fires.
	ResetOnTrigger bool

	// CachedState is the last known triggerable state, used to re-run
	// chain children that wait on app state.
	CachedState *TriggerableState
}

// Match evaluates ev against t, mutating data in place. It returns nil when
// the trigger ignores the event.
func (t Trigger) Match(ev Event, data *Data, opts MatchOptions) *MatchResult {
	switch {
	case t.Event != nil:
		return t.Event.match(ev, data, opts)
	case t.Compound != nil:
		return t.Compound.match(ev, data, opts)
	}
	return nil
}

func (e *EventTrigger) match(ev Event, data *Data, opts MatchOptions) *MatchResult {
	inc, ok := e.increment(ev, data)
	if !ok {
		return nil
	}
	data.Count += inc
	triggered := data.Count >= e.Goal
	if triggered && opts.ResetOnTrigger {
		data.Count = 0
	}
	return &MatchResult{TriggerID: e.ID, IsTriggered: triggered}
}

// increment returns how much ev adds to the trigger's count.
func (e *EventTrigger) increment(ev Event, data *Data) (float64, bool) {
	switch e.Type {
	case TypeForeground:
		return e.simple(ev, EventForeground)
	case TypeBackground:
		return e.simple(ev, EventBackground)
	case TypeAppInit:
		return e.simple(ev, EventAppInit)
	case TypeScreen:
		return e.simple(ev, EventScreenView)
	case TypeRegionEnter:
		return e.simple(ev, EventRegionEnter)
	case TypeRegionExit:
		return e.simple(ev, EventRegionExit)
	case TypeFeatureFlagInteraction:
		return e.simple(ev, EventFeatureFlagInteraction)
	case TypeCustomEventCount:
		return e.simple(ev, EventCustom)
	case TypeCustomEventValue:
		if ev.Kind != EventCustom || !e.Predicate.Apply(ev.predicatePayload()) {
			return 0, false
		}
		if ev.Value == nil {
			return 1, true
		}
		return *ev.Value, true
	case TypeVersion:
		if ev.Kind != EventStateChanged || ev.State == nil || ev.State.VersionUpdated == "" {
			return 0, false
		}
		if last := data.LastTriggerableState; last != nil && last.VersionUpdated == ev.State.VersionUpdated {
			return 0, false
		}
		data.LastTriggerableState = rememberState(data.LastTriggerableState, ev.State)
		if !e.Predicate.Apply(ev.predicatePayload()) {
			return 0, false
		}
		return 1, true
	case TypeActiveSession:
		if ev.Kind != EventStateChanged || ev.State == nil || ev.State.AppSessionID == "" {
			return 0, false
		}
		if last := data.LastTriggerableState; last != nil && last.AppSessionID == ev.State.AppSessionID {
			return 0, false
		}
		data.LastTriggerableState = rememberState(data.LastTriggerableState, ev.State)
		return 1, true
	}
	return 0, false
}

func (e *EventTrigger) simple(ev Event, kind EventKind) (float64, bool) {
	if ev.Kind != kind || !e.Predicate.Apply(ev.predicatePayload()) {
		return 0, false
	}
	return 1, true
}

// rememberState merges the non-empty markers of next into prev.
func rememberState(prev, next *TriggerableState) *TriggerableState {
	out := TriggerableState{}
	if prev != nil {
		out = *prev
	}
	if next.AppSessionID != "" {
		out.AppSessionID = next.AppSessionID
	}
	if next.VersionUpdated != "" {
		out.VersionUpdated = next.VersionUpdated
	}
	return &out
}

func (c *CompoundTrigger) match(ev Event, data *Data, opts MatchOptions) *MatchResult {
	before := c.triggeredChildren(data)
	results := c.matchChildren(ev, data, opts)

	if c.Type == CompoundChain && ev.Kind != EventStateChanged && opts.CachedState != nil &&
		c.triggeredChildren(data) != before {
		results = c.matchChildren(StateChanged(*opts.CachedState), data, opts)
	}

	switch c.Type {
	case CompoundAnd, CompoundChain:
		if allTriggered(results) {
			data.Count++
			for _, child := range c.Children {
				if !child.IsSticky {
					data.child(child.Trigger.ID()).Reset()
				}
			}
		}
	case CompoundOr:
		if anyTriggered(results) {
			data.Count++
			for _, child := range c.Children {
				cd := data.child(child.Trigger.ID())
				if child.ResetOnIncrement || cd.Count >= child.Trigger.Goal() {
					cd.Reset()
				}
			}
		}
	}

	triggered := data.Count >= c.Goal
	if triggered && opts.ResetOnTrigger {
		data.Count = 0
	}
	return &MatchResult{TriggerID: c.ID, IsTriggered: triggered}
}

// matchChildren evaluates every child without resetting any of them. A child
// that ignores the event reports its standing progress. A chain child only
// consumes the event once every preceding child has fired.
func (c *CompoundTrigger) matchChildren(ev Event, data *Data, opts MatchOptions) []MatchResult {
	childOpts := MatchOptions{CachedState: opts.CachedState}
	results := make([]MatchResult, 0, len(c.Children))
	for _, child := range c.Children {
		cd := data.child(child.Trigger.ID())
		var res *MatchResult
		if c.Type != CompoundChain || allTriggered(results) {
			res = child.Trigger.Match(ev, cd, childOpts)
		}
		if res == nil {
			res = &MatchResult{
				TriggerID:   child.Trigger.ID(),
				IsTriggered: cd.Count >= child.Trigger.Goal(),
			}
		}
		results = append(results, *res)
	}
	return results
}

func (c *CompoundTrigger) triggeredChildren(data *Data) int {
	n := 0
	for _, child := range c.Children {
		if cd, ok := data.Children[child.Trigger.ID()]; ok && cd.Count >= child.Trigger.Goal() {
			n++
		}
	}
	return n
}

func allTriggered(results []MatchResult) bool {
	for _, r := range results {
		if !r.IsTriggered {
			return false
		}
	}
	return true
}

func anyTriggered(results []MatchResult) bool {
	for _, r := range results {
		if r.IsTriggered {
			return true
		}
	}
	return false
}
