package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
)

// DefaultGatewayURL is the chat platform's websocket gateway.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// intentGuilds is the minimal intent set; interactions are delivered regardless of intents.
const intentGuilds = 1 << 0

var (
	errReconnectRequested = errors.New("gateway requested reconnect")
	errInvalidSession     = errors.New("gateway invalidated the session")
	errZombieConnection   = errors.New("heartbeat not acknowledged")

	// ErrFatalClose is returned by Run when the gateway closes with a code that makes reconnecting pointless.
	ErrFatalClose = errors.New("gateway closed the connection permanently")
)

// Close codes after which reconnecting cannot succeed (bad token, bad intents, bad version).
var fatalCloseCodes = []int{4004, 4010, 4011, 4012, 4013, 4014}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

// InteractionHandler receives every interaction delivered by the gateway.
// It runs on its own goroutine, so it may block.
type InteractionHandler func(ctx context.Context, interaction *Interaction)

// Gateway keeps a websocket session with the chat platform open and
// dispatches interactions to a handler. It reconnects with exponential backoff.
type Gateway struct {
	url        string
	token      string
	handler    InteractionHandler
	dialer     *websocket.Dialer
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	handlers sync.WaitGroup
}

func NewGateway(url, token string, handler InteractionHandler, logger zerolog.Logger) *Gateway {
	if url == "" {
		url = DefaultGatewayURL
	}
	return &Gateway{
		url:        url,
		token:      token,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		logger:     logging.Component(logger, "chat_gateway"),
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
}

// Run keeps a session open until ctx is cancelled, then waits for in-flight handlers.
// It returns nil on cancellation and ErrFatalClose when the platform refuses the session.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.handlers.Wait()

	delay := g.minBackoff
	for {
		ready, err := g.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrFatalClose) {
			g.logger.Error().Err(err).Msg("Gateway session refused")
			return err
		}
		if ready {
			delay = g.minBackoff
		}

		g.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Gateway session ended, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > g.maxBackoff {
			delay = g.maxBackoff
		}
	}
}

type gatewayConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *gatewayConn) send(op int, d interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "failed to encode gateway payload")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(gatewayPayload{Op: op, D: raw})
}

// session runs one connection. ready reports whether the platform accepted the identify.
func (g *Gateway) session(ctx context.Context) (bool, error) {
	ws, _, err := g.dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to dial gateway")
	}
	conn := &gatewayConn{ws: ws}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = ws.Close()
	}()

	var hello gatewayPayload
	if err := ws.ReadJSON(&hello); err != nil {
		return false, errors.Wrap(err, "failed to read hello")
	}
	if hello.Op != opHello {
		return false, errors.Errorf("expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return false, errors.Errorf("invalid hello payload: %s", string(hello.D))
	}

	if err := conn.send(opIdentify, identifyData{
		Token:      g.token,
		Intents:    intentGuilds,
		Properties: identifyProperties{OS: "linux", Browser: "mailrelay", Device: "mailrelay"},
	}); err != nil {
		return false, errors.Wrap(err, "failed to identify")
	}

	var (
		ready atomic.Bool
		seqMu sync.Mutex
		seq   *int64
	)
	lastSeq := func() *int64 {
		seqMu.Lock()
		defer seqMu.Unlock()
		return seq
	}

	// Both loops must have exited before session returns, so no handler is
	// dispatched after Run starts waiting for in-flight handlers.
	var loops sync.WaitGroup
	defer loops.Wait()
	defer cancel()

	acks := make(chan struct{}, 1)
	heartbeatErr := make(chan error, 1)
	loops.Add(2)
	go func() {
		defer loops.Done()
		heartbeatErr <- g.heartbeat(sessionCtx, conn, time.Duration(hd.HeartbeatInterval)*time.Millisecond, lastSeq, acks)
	}()

	readErr := make(chan error, 1)
	go func() {
		defer loops.Done()
		for {
			var p gatewayPayload
			if err := ws.ReadJSON(&p); err != nil {
				readErr <- classifyReadError(err)
				return
			}

			switch p.Op {
			case opDispatch:
				if p.S != nil {
					seqMu.Lock()
					seq = p.S
					seqMu.Unlock()
				}
				if p.T == "READY" {
					ready.Store(true)
				}
				g.dispatch(ctx, p)
			case opHeartbeat:
				if err := conn.send(opHeartbeat, lastSeq()); err != nil {
					readErr <- errors.Wrap(err, "failed to answer heartbeat request")
					return
				}
			case opHeartbeatAck:
				select {
				case acks <- struct{}{}:
				default:
				}
			case opReconnect:
				readErr <- errReconnectRequested
				return
			case opInvalidSession:
				readErr <- errInvalidSession
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ready.Load(), ctx.Err()
	case err := <-heartbeatErr:
		return ready.Load(), err
	case err := <-readErr:
		return ready.Load(), err
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *gatewayConn, interval time.Duration, lastSeq func() *int64, acks <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	acked := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-acks:
			acked = true
		case <-ticker.C:
			if !acked {
				return errZombieConnection
			}
			if err := conn.send(opHeartbeat, lastSeq()); err != nil {
				return errors.Wrap(err, "failed to send heartbeat")
			}
			acked = false
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, p gatewayPayload) {
	switch p.T {
	case "READY":
		var r readyData
		if err := json.Unmarshal(p.D, &r); err == nil {
			g.logger.Info().Str("user", r.User.Username).Str("session_id", r.SessionID).Msg("Gateway session ready")
		}
	case "INTERACTION_CREATE":
		var interaction Interaction
		if err := json.Unmarshal(p.D, &interaction); err != nil {
			g.logger.Error().Err(err).Msg("Failed to decode interaction")
			return
		}
		g.handlers.Add(1)
		go func() {
			defer g.handlers.Done()
			g.handler(ctx, &interaction)
		}()
	}
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		for _, code := range fatalCloseCodes {
			if closeErr.Code == code {
				return errors.Wrapf(ErrFatalClose, "close code %d: %s", closeErr.Code, closeErr.Text)
			}
		}
	}
	return errors.Wrap(err, "gateway read failed")
}
