package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/google/uuid"
)

// DefaultDispatchTimeout bounds one inbound message from dispatch to the last reply.
const DefaultDispatchTimeout = 2 * time.Minute

// Dispatcher runs one inbound message through the conversation.
type Dispatcher interface {
	Dispatch(ctx context.Context, in models.Inbound) (flow.Result, error)
}

// ResponseHandler reads a transport's inbound channel. Messages from one sender are handled
// strictly in arrival order by a worker that lives while that sender has queued messages;
// different senders are handled in parallel.
type ResponseHandler struct {
	svc        Service
	dispatcher Dispatcher
	dedup      store.DedupRepo
	timeout    time.Duration
	wg         sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]models.Inbound
}

// ResponseHandlerOption configures a ResponseHandler.
type ResponseHandlerOption func(*ResponseHandler)

// WithDedupRepo drops inbound messages whose transport id was already recorded.
func WithDedupRepo(repo store.DedupRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// WithDispatchTimeout overrides DefaultDispatchTimeout.
func WithDispatchTimeout(d time.Duration) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.timeout = d }
}

// NewResponseHandler creates a handler for svc.
func NewResponseHandler(svc Service, d Dispatcher, opts ...ResponseHandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		svc:        svc,
		dispatcher: d,
		timeout:    DefaultDispatchTimeout,
		queues:     make(map[string][]models.Inbound),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// Run processes inbound messages until ctx is cancelled or the channel closes, then waits for
// in-flight messages.
func (rh *ResponseHandler) Run(ctx context.Context) error {
	slog.Info("ResponseHandler starting", "service", rh.svc.Name())
	defer func() {
		rh.wg.Wait()
		slog.Info("ResponseHandler stopped", "service", rh.svc.Name())
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-rh.svc.Inbound():
			if !ok {
				slog.Debug("ResponseHandler inbound channel closed")
				return nil
			}
			rh.enqueue(ctx, in)
		}
	}
}

// enqueue appends in to its sender's queue and starts the sender's worker if none is running.
func (rh *ResponseHandler) enqueue(ctx context.Context, in models.Inbound) {
	key := in.From
	if from, err := rh.svc.ValidateAndCanonicalizeRecipient(in.From); err == nil {
		key = from
	}
	rh.mu.Lock()
	q, running := rh.queues[key]
	rh.queues[key] = append(q, in)
	rh.mu.Unlock()
	if running {
		return
	}
	rh.wg.Add(1)
	go rh.drain(ctx, key)
}

// drain handles the sender's queue head first and exits once the queue is empty.
func (rh *ResponseHandler) drain(ctx context.Context, key string) {
	defer rh.wg.Done()
	for {
		rh.mu.Lock()
		q := rh.queues[key]
		if len(q) == 0 {
			delete(rh.queues, key)
			rh.mu.Unlock()
			return
		}
		in := q[0]
		q[0] = models.Inbound{}
		rh.queues[key] = q[1:]
		rh.mu.Unlock()

		if err := rh.ProcessInbound(ctx, in); err != nil {
			slog.Error("ResponseHandler failed to process message", "error", err, "from", in.From)
		}
	}
}

// ProcessInbound canonicalizes the sender, drops duplicates and dispatches the message.
func (rh *ResponseHandler) ProcessInbound(ctx context.Context, in models.Inbound) error {
	from, err := rh.svc.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	in.From = from
	recorded := false
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if rh.dedup != nil {
		fresh, err := rh.dedup.RecordInbound(ctx, in.ID, from)
		switch {
		case err != nil:
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "id", in.ID)
		case !fresh:
			slog.Info("ResponseHandler dropping duplicate message", "id", in.ID, "from", from)
			return nil
		default:
			recorded = true
		}
	}

	dctx, cancel := context.WithTimeout(ctx, rh.timeout)
	defer cancel()
	in = rh.fetchAudio(dctx, in)
	res, err := rh.dispatcher.Dispatch(dctx, in)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", in.ID, err)
	}
	slog.Debug("ResponseHandler dispatched", "id", in.ID, "from", from, "result", res.Kind)

	if recorded {
		if err := rh.dedup.MarkProcessed(ctx, in.ID); err != nil {
			slog.Warn("ResponseHandler mark processed failed", "error", err, "id", in.ID)
		}
	}
	return nil
}

// fetchAudio downloads a referenced voice note. A failed download turns the message into
// unsupported content.
func (rh *ResponseHandler) fetchAudio(ctx context.Context, in models.Inbound) models.Inbound {
	if in.Kind != models.ContentVoice || len(in.Audio) > 0 || in.AudioRef == "" {
		return in
	}
	fetcher, ok := rh.svc.(AudioFetcher)
	if !ok {
		slog.Error("ResponseHandler transport cannot fetch audio", "service", rh.svc.Name(), "id", in.ID)
		in.Kind = models.ContentUnsupported
		return in
	}
	audio, err := fetcher.FetchAudio(ctx, in.AudioRef)
	if err != nil || len(audio) == 0 {
		slog.Error("ResponseHandler voice download failed", "from", in.From, "id", in.ID, "error", err)
		in.Kind = models.ContentUnsupported
		return in
	}
	in.Audio = audio
	return in
}
