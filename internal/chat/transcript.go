package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
)

// TranscriptStore is the persistence slice the recorder writes through.
type TranscriptStore interface {
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error
}

type transcriptOp struct {
	conv      *domain.Conversation
	sessionID string
	msg       domain.ChatMessage
}

// TranscriptRecorder persists conversation headers and messages off the
// streaming path. Token delivery must never wait on SQLite, so writes go
// through a bounded queue; when it fills, the oldest entry is dropped and
// the loss logged.
type TranscriptRecorder struct {
	store  TranscriptStore
	ops    chan transcriptOp
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewTranscriptRecorder starts the background writer.
func NewTranscriptRecorder(store TranscriptStore, logger *slog.Logger) *TranscriptRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &TranscriptRecorder{
		store:  store,
		ops:    make(chan transcriptOp, 256),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// RecordConversation queues a conversation header upsert.
func (r *TranscriptRecorder) RecordConversation(conv *domain.Conversation) {
	r.enqueue(transcriptOp{conv: conv})
}

// RecordMessage queues one transcript message.
func (r *TranscriptRecorder) RecordMessage(sessionID string, msg domain.ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	r.enqueue(transcriptOp{sessionID: sessionID, msg: msg})
}

func (r *TranscriptRecorder) enqueue(op transcriptOp) {
	select {
	case r.ops <- op:
	case <-r.ctx.Done():
	default:
		// Queue full: drop the oldest op to keep the stream unblocked.
		select {
		case dropped := <-r.ops:
			r.logger.Warn("transcript queue full, dropping oldest entry",
				"session_id", dropped.sessionID)
		default:
		}
		select {
		case r.ops <- op:
		default:
			r.logger.Warn("transcript entry dropped", "session_id", op.sessionID)
		}
	}
}

// Close drains the queue and stops the writer.
func (r *TranscriptRecorder) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *TranscriptRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case op := <-r.ops:
			r.apply(op)
		case <-r.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case op := <-r.ops:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (r *TranscriptRecorder) apply(op transcriptOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if op.conv != nil {
		if err := r.store.UpsertConversation(ctx, op.conv); err != nil {
			r.logger.Error("failed to upsert conversation",
				"session_id", op.conv.SessionID, "error", err)
		}
		return
	}
	if err := r.store.AppendMessage(ctx, op.sessionID, op.msg); err != nil {
		r.logger.Error("failed to append message",
			"session_id", op.sessionID, "error", err)
	}
}
