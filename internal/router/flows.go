package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

// DefaultFlowTTL is how long a modal may stay open before its flow is abandoned.
const DefaultFlowTTL = 15 * time.Minute

// Flow is the state of an activation waiting for the human to submit context.
// The modal carries only ID; everything else is restored from here on submission.
type Flow struct {
	ID             string
	Action         models.Action
	EmailMessageID string
	Chat           models.ChatMessageRef
	Author         string
	CreatedAt      time.Time
}

// Flows holds pending collect-then-relay flows. Each flow is consumed at most once.
type Flows struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]Flow
	now     func() time.Time
	logger  zerolog.Logger
}

func NewFlows(ttl time.Duration, logger zerolog.Logger) *Flows {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &Flows{
		ttl:     ttl,
		pending: make(map[string]Flow),
		now:     time.Now,
		logger:  logging.Component(logger, "flows"),
	}
}

// Begin registers a flow under a fresh ID and returns it.
func (f *Flows) Begin(flow Flow) Flow {
	f.mu.Lock()
	defer f.mu.Unlock()

	flow.ID = uuid.NewString()
	flow.CreatedAt = f.now()
	f.pending[flow.ID] = flow
	return flow
}

// Take removes and returns the flow. It reports false for unknown, already consumed or expired flows.
func (f *Flows) Take(id string) (Flow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flow, ok := f.pending[id]
	if !ok {
		return Flow{}, false
	}
	delete(f.pending, id)
	if f.expired(flow) {
		f.logAbandoned(flow)
		return Flow{}, false
	}
	return flow, true
}

// Discard drops a flow without relaying it.
func (f *Flows) Discard(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
}

// Sweep abandons every expired flow and returns how many were dropped.
func (f *Flows) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	dropped := 0
	for id, flow := range f.pending {
		if f.expired(flow) {
			delete(f.pending, id)
			f.logAbandoned(flow)
			dropped++
		}
	}
	return dropped
}

func (f *Flows) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Flows) expired(flow Flow) bool {
	return f.now().Sub(flow.CreatedAt) >= f.ttl
}

func (f *Flows) logAbandoned(flow Flow) {
	f.logger.Info().
		Str("flow_id", flow.ID).
		Str("action", flow.Action.String()).
		Str("message_id", flow.EmailMessageID).
		Str("chat_message_id", flow.Chat.ChatMessageID).
		Str("author", flow.Author).
		Msg("Flow abandoned without submission, nothing relayed")
}
