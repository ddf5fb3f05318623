package persist

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*FailureQueue, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewFailureQueueWithClient(rdb)
	return q, func() {
		_ = q.Close()
		mr.Close()
	}
}

func TestFailureQueuePushPop(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	jobs := []Job{
		{Kind: opCreate, RoomID: "room-1", Create: &MatchRecord{RoomID: "room-1", P1Name: "alice", P2Name: "bob"}},
		{Kind: opFinish, RoomID: "room-1", Finish: &FinishRecord{RoomID: "room-1", Winner: "alice", TimeLeft: 42}},
		{Kind: opCancel, RoomID: "room-2"},
	}
	for _, j := range jobs {
		if err := q.Push(ctx, j); err != nil {
			t.Fatalf("Push(%s): %v", j.Kind, err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("Len = %d (%v), want 3", n, err)
	}

	// FIFO order with payloads intact
	first, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if first == nil || first.Kind != opCreate || first.Create == nil || first.Create.P2Name != "bob" {
		t.Fatalf("first job = %+v", first)
	}
	second, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if second == nil || second.Kind != opFinish || second.Finish == nil || second.Finish.TimeLeft != 42 {
		t.Fatalf("second job = %+v", second)
	}
	third, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if third == nil || third.Kind != opCancel || third.RoomID != "room-2" {
		t.Fatalf("third job = %+v", third)
	}
}

func TestFailureQueuePopEmpty(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	j, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop on empty queue: %v", err)
	}
	if j != nil {
		t.Fatalf("Pop on empty queue returned %+v", j)
	}
}
