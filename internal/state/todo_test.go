package state

import "testing"

func TestMergeTodos_SerialFlow(t *testing.T) {
	current := MergeTodos(nil, []Todo{{ID: "a", Content: "A", Status: TodoPending}}, true)
	if len(current) != 1 || current[0].Status != TodoPending {
		t.Fatalf("got %+v", current)
	}

	current = MergeTodos(current, []Todo{{ID: "a", Content: "A", Status: TodoInProgress}}, true)
	if current[0].Status != TodoInProgress {
		t.Fatalf("expected in_progress, got %+v", current)
	}

	current = MergeTodos(current, []Todo{{ID: "a", Content: "A", Status: TodoCompleted}}, true)
	if current[0].Status != TodoCompleted {
		t.Fatalf("expected completed, got %+v", current)
	}
}

func TestMergeTodos_ParallelStaleCompletions(t *testing.T) {
	initial := []Todo{
		{ID: "a", Status: TodoInProgress},
		{ID: "b", Status: TodoInProgress},
		{ID: "c", Status: TodoInProgress},
	}

	// Three updates race in, each completing one todo but carrying the
	// stale initial snapshot for the other two.
	updates := [][]Todo{
		{{ID: "a", Status: TodoCompleted}, {ID: "b", Status: TodoInProgress}, {ID: "c", Status: TodoInProgress}},
		{{ID: "a", Status: TodoInProgress}, {ID: "b", Status: TodoCompleted}, {ID: "c", Status: TodoInProgress}},
		{{ID: "a", Status: TodoInProgress}, {ID: "b", Status: TodoInProgress}, {ID: "c", Status: TodoCompleted}},
	}

	current := initial
	for _, u := range updates {
		current = MergeTodos(current, u, true)
	}

	for _, todo := range current {
		if todo.Status != TodoCompleted {
			t.Fatalf("todo %s lost its completion: %+v", todo.ID, current)
		}
	}
}

func TestMergeTodos_NilVsEmptyUpdate(t *testing.T) {
	current := []Todo{{ID: "a", Status: TodoPending}}

	if got := MergeTodos(current, nil, false); len(got) != 1 {
		t.Fatalf("nil update should be a no-op, got %+v", got)
	}

	if got := MergeTodos(current, []Todo{}, true); len(got) != 0 {
		t.Fatalf("explicit empty update should clear, got %+v", got)
	}
}

func TestMergeTodos_MonotonicityProperty(t *testing.T) {
	// Property: across any sequence of updates, a todo's priority rank
	// never decreases.
	sequences := [][]TodoStatus{
		{TodoPending, TodoInProgress, TodoCompleted},
		{TodoInProgress, TodoPending, TodoCompleted, TodoInProgress},
		{TodoCompleted, TodoPending, TodoInProgress},
	}

	for _, seq := range sequences {
		current := []Todo{{ID: "x", Status: TodoPending}}
		lastPriority := current[0].Status.priority()
		for _, status := range seq {
			current = MergeTodos(current, []Todo{{ID: "x", Status: status}}, true)
			if p := current[0].Status.priority(); p < lastPriority {
				t.Fatalf("priority regressed: %d -> %d (sequence %v)", lastPriority, p, seq)
			} else {
				lastPriority = p
			}
		}
	}
}
