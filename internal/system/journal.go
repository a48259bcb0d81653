package system

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"go.uber.org/zap"
)

const journalQueueSize = 256

// JournalStore appends journal entries; storage.PostgresClient implements it.
type JournalStore interface {
	AppendJournal(ctx context.Context, entry storage.JournalEntry) error
}

// JournalRecorder writes card events to the output journal from a single
// worker so card operations never wait on the database.
type JournalRecorder struct {
	store  JournalStore
	logger *zap.Logger

	mu     sync.Mutex
	queue  chan devices.ChangeEvent
	closed bool
	done   chan struct{}
}

func NewJournalRecorder(store JournalStore, logger *zap.Logger) *JournalRecorder {
	return &JournalRecorder{
		store:  store,
		logger: logger,
		queue:  make(chan devices.ChangeEvent, journalQueueSize),
		done:   make(chan struct{}),
	}
}

// Listener enqueues events. Events are dropped when the queue is full or
// the recorder is closed.
func (r *JournalRecorder) Listener() devices.Listener {
	return func(ev devices.ChangeEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return
		}
		select {
		case r.queue <- ev:
		default:
			r.logger.Warn("Journal queue full, event dropped",
				zap.String("card", ev.Card),
				zap.String("operation", ev.Operation))
		}
	}
}

// Run drains the queue until Close is called.
func (r *JournalRecorder) Run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.AppendJournal(ctx, EntryFromEvent(ev)); err != nil {
			r.logger.Error("Failed to append journal entry",
				zap.String("card", ev.Card),
				zap.String("operation", ev.Operation),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued ones are written or
// ctx is done.
func (r *JournalRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func EntryFromEvent(ev devices.ChangeEvent) storage.JournalEntry {
	entry := storage.JournalEntry{
		CardName:    ev.Card,
		Operation:   ev.Operation,
		OnChannels:  int32s(ev.On),
		OffChannels: int32s(ev.Off),
		Changed:     make([]storage.JournalChange, 0, len(ev.Changed)),
		Frames:      ev.Frames,
		Clusters:    ev.Clusters,
		Error:       ev.Error,
		CreatedAt:   ev.Timestamp,
	}
	for _, c := range ev.Changed {
		entry.Changed = append(entry.Changed, storage.JournalChange{Channel: int(c.Channel), On: c.On})
	}
	return entry
}

func int32s(chs []int) []int32 {
	out := make([]int32, len(chs))
	for i, ch := range chs {
		out[i] = int32(ch)
	}
	return out
}
