package counsellor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/transcript"
	"github.com/FueledByOctane/fieldtalk/internal/transport"
)

// Engine runs counsellor turns: Idle -> Typing -> (Streaming*) ->
// Complete -> Idle, one turn at a time per field.
//
// Two guarantees hold on every path, success or failure:
//   - counsellor-typing{false} is published exactly once per accepted
//     turn, so the UI can never be stuck on "typing";
//   - turns for the same field never overlap. A second trigger queues
//     behind the per-field mutex, and Cancel advances the field's epoch
//     so an in-flight turn discards its reply and a queued turn aborts
//     before publishing anything.
type Engine struct {
	llm         LLMClient
	bus         transport.Bus
	transcripts *transcript.Store
	logger      *zap.Logger

	turnTimeout    time.Duration
	summaryTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*fieldTurns
}

type fieldTurns struct {
	mu sync.Mutex
	// seq numbers accepted turns; it only feeds the stream id.
	seq atomic.Uint64
	// epoch invalidates turns: a turn captures it when triggered and is
	// stale once Cancel has advanced it.
	epoch atomic.Uint64
}

func NewEngine(llm LLMClient, bus transport.Bus, transcripts *transcript.Store, turnTimeout time.Duration, logger *zap.Logger) *Engine {
	if turnTimeout <= 0 {
		turnTimeout = 25 * time.Second
	}
	return &Engine{
		llm:            llm,
		bus:            bus,
		transcripts:    transcripts,
		logger:         logger,
		turnTimeout:    turnTimeout,
		summaryTimeout: turnTimeout,
		rooms:          make(map[string]*fieldTurns),
	}
}

func (e *Engine) field(code string) *fieldTurns {
	e.mu.Lock()
	defer e.mu.Unlock()
	ft, ok := e.rooms[code]
	if !ok {
		ft = &fieldTurns{}
		e.rooms[code] = ft
	}
	return ft
}

// Trigger requests a counsellor turn for a field. It returns immediately;
// the turn runs detached from the caller's request context so the human
// message path never waits on model latency. Streaming selects the
// incremental event sequence, otherwise the reply arrives as a single
// stream-end.
func (e *Engine) Trigger(code string, mode models.GuidanceMode, streaming bool) {
	go e.run(code, SystemPrompt(mode), streaming, e.turnTimeout, e.field(code).epoch.Load())
}

// TriggerSummary requests the session-summary turn: always batched, own
// timeout, published like any counsellor reply.
func (e *Engine) TriggerSummary(code string, mode models.GuidanceMode) {
	go e.run(code, SummaryPrompt(mode), false, e.summaryTimeout, e.field(code).epoch.Load())
}

// Cancel invalidates any in-flight or queued turn for a field. Used when
// a field is deactivated. An in-flight turn finishes its model call but
// publishes nothing beyond its closing typing flag; a turn still queued
// behind the field mutex aborts before publishing at all.
func (e *Engine) Cancel(code string) {
	e.field(code).epoch.Add(1)
}

func (e *Engine) run(code, system string, streaming bool, timeout time.Duration, epoch uint64) {
	ft := e.field(code)
	ft.mu.Lock()
	defer ft.mu.Unlock()

	// The epoch was captured at trigger time. If Cancel ran while this
	// turn waited for the mutex, it was never accepted: no typing flag,
	// no model call.
	if ft.epoch.Load() != epoch {
		e.logger.Info("discarding cancelled counsellor turn", zap.String("field", code))
		return
	}

	token := ft.seq.Add(1)
	streamID := fmt.Sprintf("%s-%d", code, token)
	channel := transport.ChannelName(code)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stale := func() bool { return ft.epoch.Load() != epoch }

	e.publish(channel, transport.EventCounsellorTyping, &transport.CounsellorTyping{IsTyping: true})
	// The compensating broadcast: runs on success, model failure,
	// timeout, and panic-free early returns alike.
	defer e.publish(channel, transport.EventCounsellorTyping, &transport.CounsellorTyping{IsTyping: false})

	history, err := e.transcripts.Window(ctx, code, TranscriptWindow)
	if err != nil {
		e.logger.Error("turn aborted: transcript load failed",
			zap.String("field", code), zap.Error(err))
		return
	}
	turns := BuildTurns(history, TranscriptWindow)

	var reply string
	if streaming {
		if stale() {
			return
		}
		e.publish(channel, transport.EventStreamStart, &transport.StreamStart{ID: streamID})
		reply, err = e.llm.Stream(ctx, system, turns, func(chunk string) {
			if stale() {
				return
			}
			e.publish(channel, transport.EventStreamChunk, &transport.StreamChunk{ID: streamID, Chunk: chunk})
		})
	} else {
		reply, err = e.llm.Complete(ctx, system, turns)
	}
	if err != nil {
		e.logger.Warn("counsellor turn failed",
			zap.String("field", code),
			zap.Bool("streaming", streaming),
			zap.Error(err))
		return
	}
	if stale() {
		e.logger.Info("discarding stale counsellor turn", zap.String("field", code))
		return
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		FieldCode:  code,
		SenderID:   "counsellor",
		SenderName: "Counsellor",
		SenderRole: models.RoleCounsellor,
		Content:    reply,
		SentAt:     time.Now().UnixMilli(),
	}

	// Persist before broadcast so the durable transcript never lags what
	// clients have seen. A persistence failure is logged but the reply is
	// still delivered; the room already watched it being typed.
	if err := e.transcripts.Append(ctx, msg); err != nil {
		e.logger.Error("persist counsellor message failed",
			zap.String("field", code), zap.Error(err))
	}

	e.publish(channel, transport.EventStreamEnd, msg)
}

func (e *Engine) publish(channel string, name transport.EventName, payload any) {
	ev, err := transport.NewEvent(name, payload)
	if err != nil {
		e.logger.Error("build event failed", zap.String("event", string(name)), zap.Error(err))
		return
	}
	// Publishes get their own short deadline: the turn's 25s budget is
	// for the model, not for a wedged transport.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.bus.Publish(ctx, channel, ev); err != nil {
		e.logger.Warn("publish failed",
			zap.String("channel", channel),
			zap.String("event", string(name)),
			zap.Error(err))
	}
}
