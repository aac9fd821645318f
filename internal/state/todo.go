package state

import "github.com/google/uuid"

// TodoStatus is the monotone priority ladder a todo's status may only climb,
// never descend: pending < in_progress < completed.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// priority returns the status's rank in the monotone ladder. Unknown
// statuses rank below pending so malformed input never wins a merge.
func (s TodoStatus) priority() int {
	switch s {
	case TodoPending:
		return 0
	case TodoInProgress:
		return 1
	case TodoCompleted:
		return 2
	default:
		return -1
	}
}

// Todo is a single planning item. ID is auto-assigned by the todo middleware
// when the model omits it.
type Todo struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// AssignIDs fills in missing ids in place, returning the same slice.
func AssignIDs(todos []Todo) []Todo {
	for i := range todos {
		if todos[i].ID == "" {
			todos[i].ID = uuid.NewString()
		}
	}
	return todos
}

// MergeTodos implements the priority-preserving reducer contract: an update
// can only raise a todo's status, never lower it. When updateIsSet is false
// the update is ignored; a set update with no entries (nil or empty) is the
// designated clear signal.
//
// This is the correctness property that lets N sub-agents race to completion
// from stale snapshots without ever losing one another's completions (see
// the parallel-stale-completions scenario).
func MergeTodos(current []Todo, update []Todo, updateIsSet bool) []Todo {
	if !updateIsSet {
		return current
	}
	if len(update) == 0 {
		return []Todo{}
	}

	byID := make(map[string]int, len(current))
	next := make([]Todo, len(current))
	copy(next, current)
	for i, t := range next {
		byID[t.ID] = i
	}

	for _, u := range update {
		idx, ok := byID[u.ID]
		if !ok {
			byID[u.ID] = len(next)
			next = append(next, u)
			continue
		}
		existing := next[idx]
		if u.Status.priority() > existing.Status.priority() {
			next[idx] = u
		}
		// Ties (or a lower-priority incoming status) keep the existing
		// entry verbatim — this is what protects a completed todo from
		// being clobbered by a late-arriving stale "in_progress" write.
	}
	return next
}
