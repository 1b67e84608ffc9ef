package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	DefaultLogBuffer       = 1024
	DefaultLogWriteTimeout = 5 * time.Second
)

// TurnWriter is the write half of Store.
type TurnWriter interface {
	AppendTurn(ctx context.Context, threadID, channel string, turn core.Turn) error
}

type logEntry struct {
	thread  string
	channel string
	turn    core.Turn
}

// AsyncLog hands turns to a single background writer so an agent never waits
// on the database. Turns are written in the order Append was called. When the
// buffer is full the turn is dropped and logged.
type AsyncLog struct {
	w       TurnWriter
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	ch     chan logEntry
	closed bool
	done   chan struct{}
}

func NewAsyncLog(w TurnWriter, buffer int, logger *slog.Logger) *AsyncLog {
	if buffer <= 0 {
		buffer = DefaultLogBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &AsyncLog{
		w:       w,
		logger:  logger,
		timeout: DefaultLogWriteTimeout,
		ch:      make(chan logEntry, buffer),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLog) Append(threadID, channel string, turn core.Turn) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("turn appended after log closed", "thread_id", threadID, "turn_id", turn.ID)
		return
	}
	select {
	case l.ch <- logEntry{thread: threadID, channel: channel, turn: turn}:
	default:
		l.logger.Error("conversation log buffer full; turn dropped", "thread_id", threadID, "turn_id", turn.ID)
	}
}

func (l *AsyncLog) run() {
	defer close(l.done)
	for e := range l.ch {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.w.AppendTurn(ctx, e.thread, e.channel, e.turn)
		cancel()
		if err != nil {
			l.logger.Error("conversation log write failed", "thread_id", e.thread, "turn_id", e.turn.ID, "error", err)
		}
	}
}

// Close stops accepting turns and waits for queued ones to be written, or for
// ctx to end.
func (l *AsyncLog) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
