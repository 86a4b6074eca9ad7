package service

import (
	"context"
	"sync"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

// subscriberBuffer is the number of events a subscriber may lag behind.
const subscriberBuffer = 16

// job is the in-memory state of one import. snap is the only copy the run
// loop mutates; readers get copies through snapshot.
type job struct {
	mu        sync.Mutex
	snap      repository.ImportJob
	next      int                 // index of the next parsed row to process
	insErrors []parser.ParseError // insertion failures, carried by checkpoints
	preview   int

	cancel   context.CancelFunc
	done     chan struct{}
	resumeCh chan struct{} // non-nil while paused

	subs    map[int]chan Event
	nextSub int
	last    Event
	closed  bool
}

func (j *job) snapshot() repository.ImportJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyLocked()
}

func (j *job) copyLocked() repository.ImportJob {
	out := j.snap
	out.Errors = append([]parser.ParseError(nil), j.snap.Errors...)
	if j.snap.FinishedAt != nil {
		finished := *j.snap.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

func (j *job) status() repository.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.Status
}

func (j *job) event() Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.eventLocked()
}

func (j *job) eventLocked() Event {
	preview := j.snap.Errors
	if len(preview) > j.preview {
		preview = preview[:j.preview]
	}
	return Event{
		ImportID:  j.snap.ID,
		Kind:      j.snap.Kind,
		Status:    j.snap.Status,
		Total:     j.snap.Total,
		Processed: j.snap.Processed,
		Success:   j.snap.Success,
		Failed:    j.snap.Failed,
		Skipped:   j.snap.Skipped,
		Paused:    j.snap.Paused,
		Errors:    append([]parser.ParseError(nil), preview...),
	}
}

// pause reports whether the job changed state.
func (j *job) pause() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resumeCh != nil || j.snap.Status.Terminal() {
		return false
	}
	j.resumeCh = make(chan struct{})
	j.snap.Paused = true
	return true
}

func (j *job) resume() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resumeLocked()
}

func (j *job) resumeLocked() bool {
	if j.resumeCh == nil {
		return false
	}
	close(j.resumeCh)
	j.resumeCh = nil
	j.snap.Paused = false
	return true
}

// waitResume blocks while the job is paused.
func (j *job) waitResume(ctx context.Context) error {
	j.mu.Lock()
	ch := j.resumeCh
	j.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *job) subscribe() (<-chan Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if j.closed {
		ch <- j.last
		close(ch)
		return ch, func() {}
	}
	ch <- j.eventLocked()

	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
}

// publish fans an event out without blocking. The terminal event evicts the
// oldest queued event when a subscriber is full, then closes the channel.
func (j *job) publish(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.last = e
	terminal := e.Terminal()
	for id, ch := range j.subs {
		select {
		case ch <- e:
		default:
			if terminal {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- e:
				default:
				}
			}
		}
		if terminal {
			close(ch)
			delete(j.subs, id)
		}
	}
	if terminal {
		j.closed = true
	}
}
