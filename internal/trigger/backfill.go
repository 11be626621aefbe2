package trigger

import (
	"fmt"

	"github.com/roach88/automation/internal/canonical"
)

// BackfillIdentifier replaces a parse-time random id with a content-derived
// one for the given execution type. The replacement happens at most once;
// triggers that arrived with an explicit id are never rewritten.
//
// The event trigger id is the hex SHA-256 of the canonical JSON object
// {"execution_type", "goal", "predicate"?, "type"}. Compound triggers hash
// the same fields with their children's ids in place of the predicate, so
// children are backfilled first.
func (t Trigger) BackfillIdentifier(execType ExecutionType) error {
	switch {
	case t.Event != nil:
		return t.Event.backfill(execType)
	case t.Compound != nil:
		return t.Compound.backfill(execType)
	}
	return nil
}

func (e *EventTrigger) backfill(execType ExecutionType) error {
	if !e.allowBackfill {
		return nil
	}
	preimage := map[string]any{
		"type":           string(e.Type),
		"goal":           e.Goal,
		"execution_type": string(execType),
	}
	if e.Predicate != nil {
		preimage["predicate"] = e.Predicate
	}
	id, err := canonical.Hash(preimage)
	if err != nil {
		return fmt.Errorf("backfill trigger id: %w", err)
	}
	e.ID = id
	e.allowBackfill = false
	return nil
}

// An id-less AND or OR child identical to an earlier sibling is dropped: it
// would share the sibling's counter and add nothing to the condition. Chain
// steps are ordered, so repeated chain steps are kept and must carry
// explicit ids to pass validation.
func (c *CompoundTrigger) backfill(execType ExecutionType) error {
	children := make([]Child, 0, len(c.Children))
	childIDs := make([]any, 0, len(c.Children))
	seen := make(map[string]bool, len(c.Children))
	for _, child := range c.Children {
		pending := !child.Trigger.Backfilled()
		if err := child.Trigger.BackfillIdentifier(execType); err != nil {
			return err
		}
		id := child.Trigger.ID()
		if pending && seen[id] && c.Type != CompoundChain {
			continue
		}
		seen[id] = true
		children = append(children, child)
		childIDs = append(childIDs, id)
	}
	c.Children = children
	if !c.allowBackfill {
		return nil
	}
	id, err := canonical.Hash(map[string]any{
		"type":           string(c.Type),
		"goal":           c.Goal,
		"execution_type": string(execType),
		"children":       childIDs,
	})
	if err != nil {
		return fmt.Errorf("backfill trigger id: %w", err)
	}
	c.ID = id
	c.allowBackfill = false
	return nil
}

// Backfilled reports whether the trigger tree has no pending parse-time ids.
func (t Trigger) Backfilled() bool {
	switch {
	case t.Event != nil:
		return !t.Event.allowBackfill
	case t.Compound != nil:
		if t.Compound.allowBackfill {
			return false
		}
		for _, child := range t.Compound.Children {
			if !child.Trigger.Backfilled() {
				return false
			}
		}
	}
	return true
}
