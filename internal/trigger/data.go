package trigger

// Data is the persisted counting state of one trigger of one schedule.
// Children mirror a compound trigger's children, keyed by child id.
// ExecutionType scopes top-level records; an empty value means
// ExecutionTypeExecution.
type Data struct {
	ScheduleID           string            `json:"schedule_id"`
	TriggerID            string            `json:"trigger_id"`
	ExecutionType        ExecutionType     `json:"execution_type,omitempty"`
	Count                float64           `json:"count"`
	Children             map[string]*Data  `json:"children,omitempty"`
	LastTriggerableState *TriggerableState `json:"last_triggerable_state,omitempty"`
}

// NewData returns empty counting state for a trigger.
func NewData(scheduleID, triggerID string) *Data {
	return &Data{ScheduleID: scheduleID, TriggerID: triggerID}
}

// NewScopedData returns empty counting state for a trigger evaluated as
// execType.
func NewScopedData(scheduleID string, execType ExecutionType, triggerID string) *Data {
	return &Data{ScheduleID: scheduleID, TriggerID: triggerID, ExecutionType: execType}
}

// Scope returns the execution type of d, defaulting to execution.
func (d *Data) Scope() ExecutionType {
	if d.ExecutionType == "" {
		return ExecutionTypeExecution
	}
	return d.ExecutionType
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{
		ScheduleID:    d.ScheduleID,
		TriggerID:     d.TriggerID,
		ExecutionType: d.ExecutionType,
		Count:         d.Count,
	}
	if d.LastTriggerableState != nil {
		s := *d.LastTriggerableState
		out.LastTriggerableState = &s
	}
	if d.Children != nil {
		out.Children = make(map[string]*Data, len(d.Children))
		for id, child := range d.Children {
			out.Children[id] = child.Clone()
		}
	}
	return out
}

// child returns the counting state for a child trigger, creating it.
func (d *Data) child(id string) *Data {
	if d.Children == nil {
		d.Children = make(map[string]*Data)
	}
	c, ok := d.Children[id]
	if !ok {
		c = NewData(d.ScheduleID, id)
		d.Children[id] = c
	}
	return c
}

// Reset zeroes the count of d and every descendant.
func (d *Data) Reset() {
	d.Count = 0
	for _, c := range d.Children {
		c.Reset()
	}
}

// Prune drops child state whose id no longer appears in t, recursively.
func (t Trigger) Prune(d *Data) {
	if d == nil {
		return
	}
	if t.Compound == nil {
		d.Children = nil
		return
	}
	keep := make(map[string]Trigger, len(t.Compound.Children))
	for _, child := range t.Compound.Children {
		keep[child.Trigger.ID()] = child.Trigger
	}
	for id, c := range d.Children {
		ct, ok := keep[id]
		if !ok {
			delete(d.Children, id)
			continue
		}
		ct.Prune(c)
	}
	if len(d.Children) == 0 {
		d.Children = nil
	}
}
