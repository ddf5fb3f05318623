package persist

import (
	"context"
	"sync"
	"time"

	"github.com/kapu/arena-relay/internal/obslog"
	"go.uber.org/zap"
)

type opKind string

const (
	opCreate opKind = "create"
	opStart  opKind = "start"
	opFinish opKind = "finish"
	opCancel opKind = "cancel"
)

// Job is one deferred history write, serializable for the failure queue.
type Job struct {
	Kind   opKind        `json:"kind"`
	RoomID string        `json:"room_id"`
	Create *MatchRecord  `json:"create,omitempty"`
	Finish *FinishRecord `json:"finish,omitempty"`
}

// Async decouples history writes from the event path: calls enqueue a job
// and return immediately, a single worker preserves per-room write order,
// and failures are logged and parked on the dead-letter queue when one is
// configured. Errors never reach the caller.
type Async struct {
	inner   Recorder
	queue   *FailureQueue
	jobs    chan Job
	timeout time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

func NewAsync(inner Recorder, queue *FailureQueue, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		inner:   inner,
		queue:   queue,
		jobs:    make(chan Job, buffer),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
	go a.worker()
	return a
}

func (a *Async) CreateMatch(_ context.Context, rec MatchRecord) error {
	a.enqueue(Job{Kind: opCreate, RoomID: rec.RoomID, Create: &rec})
	return nil
}

func (a *Async) StartMatch(_ context.Context, roomID string) error {
	a.enqueue(Job{Kind: opStart, RoomID: roomID})
	return nil
}

func (a *Async) FinishMatch(_ context.Context, rec FinishRecord) error {
	a.enqueue(Job{Kind: opFinish, RoomID: rec.RoomID, Finish: &rec})
	return nil
}

func (a *Async) CancelMatch(_ context.Context, roomID string) error {
	a.enqueue(Job{Kind: opCancel, RoomID: roomID})
	return nil
}

func (a *Async) enqueue(j Job) {
	select {
	case a.jobs <- j:
	default:
		obslog.L().Warn("persist_queue_full", zap.String("kind", string(j.Kind)), zap.String("room_id", j.RoomID))
		a.park(j)
	}
}

func (a *Async) worker() {
	for j := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.dispatch(ctx, j)
		cancel()
		if err != nil {
			obslog.L().Error("persist_error",
				zap.String("kind", string(j.Kind)),
				zap.String("room_id", j.RoomID),
				zap.Error(err))
			a.park(j)
		}
	}
	close(a.done)
}

func (a *Async) dispatch(ctx context.Context, j Job) error {
	switch j.Kind {
	case opCreate:
		if j.Create == nil {
			return nil
		}
		return a.inner.CreateMatch(ctx, *j.Create)
	case opStart:
		return a.inner.StartMatch(ctx, j.RoomID)
	case opFinish:
		if j.Finish == nil {
			return nil
		}
		return a.inner.FinishMatch(ctx, *j.Finish)
	case opCancel:
		return a.inner.CancelMatch(ctx, j.RoomID)
	}
	return nil
}

func (a *Async) park(j Job) {
	if a.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.queue.Push(ctx, j); err != nil {
		obslog.L().Error("persist_deadletter_error", zap.String("room_id", j.RoomID), zap.Error(err))
	}
}

// Close stops accepting work and waits for the worker to drain.
func (a *Async) Close() {
	a.stopOnce.Do(func() { close(a.jobs) })
	<-a.done
}
