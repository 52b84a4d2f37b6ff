package orch

import (
	"context"
	"testing"

	"github.com/newtron-network/orchcore/pkg/store"
)

// TestRetryFairness covers P7: a key stuck in RetryLater must not block
// other pending keys from making progress, and is re-driven on a
// subsequent Run rather than starving forever.
func TestRetryFairness(t *testing.T) {
	applied := map[string]int{}
	stuck := "stuck-key"

	e := NewEngine("test", "TABLE", nil, func(ctx context.Context, key string, op store.Op, fields map[string]string) Outcome {
		applied[key]++
		if key == stuck {
			return RetryLater
		}
		return Done
	})

	e.enqueue(store.Event{Key: stuck, Op: store.OpSet})
	e.enqueue(store.Event{Key: "a", Op: store.OpSet})
	e.enqueue(store.Event{Key: "b", Op: store.OpSet})

	ctx := context.Background()
	e.Run(ctx)

	if applied["a"] != 1 || applied["b"] != 1 {
		t.Fatalf("expected a and b to be applied once, got a=%d b=%d", applied["a"], applied["b"])
	}
	if applied[stuck] != 1 {
		t.Fatalf("expected stuck key applied once, got %d", applied[stuck])
	}
	if e.Pending() != 1 {
		t.Fatalf("expected only the stuck key to remain pending, got %d", e.Pending())
	}

	// A second Run with no new writes re-drives the stuck key again,
	// without needing a and b (already Done) to reappear.
	e.Run(ctx)
	if applied[stuck] != 2 {
		t.Fatalf("expected stuck key retried on next Run, got %d applications", applied[stuck])
	}
	if applied["a"] != 1 || applied["b"] != 1 {
		t.Fatalf("a/b must not be re-applied once Done: a=%d b=%d", applied["a"], applied["b"])
	}
}

// TestSupersedingWriteCollapses covers the "superseding writes to the same
// key before a retry collapse into a single apply using the latest fields"
// invariant.
func TestSupersedingWriteCollapses(t *testing.T) {
	var seen []string
	e := NewEngine("test", "TABLE", nil, func(ctx context.Context, key string, op store.Op, fields map[string]string) Outcome {
		seen = append(seen, fields["v"])
		return Done
	})

	e.enqueue(store.Event{Key: "k", Op: store.OpSet, Fields: map[string]string{"v": "1"}})
	e.enqueue(store.Event{Key: "k", Op: store.OpSet, Fields: map[string]string{"v": "2"}})

	e.Run(context.Background())

	if len(seen) != 1 || seen[0] != "2" {
		t.Fatalf("expected exactly one apply using the latest fields, got %v", seen)
	}
}

// TestErrorOutcomeDropsKeyWithoutRetry covers the "error — log, drop" path:
// an Error outcome removes the key from pending-work, unlike RetryLater.
func TestErrorOutcomeDropsKeyWithoutRetry(t *testing.T) {
	calls := 0
	e := NewEngine("test", "TABLE", nil, func(ctx context.Context, key string, op store.Op, fields map[string]string) Outcome {
		calls++
		return Error
	})

	e.enqueue(store.Event{Key: "bad", Op: store.OpSet})
	e.Run(context.Background())
	e.Run(context.Background())

	if calls != 1 {
		t.Fatalf("expected Error outcome to drop the key (no retry): got %d calls", calls)
	}
	if e.Pending() != 0 {
		t.Fatalf("expected no pending keys after an Error outcome, got %d", e.Pending())
	}
}
