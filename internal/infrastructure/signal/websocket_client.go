package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"
	"reelcast/pkg/circuitbreaker"
	"reelcast/pkg/retry"
	"reelcast/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig tunes the signaling connection.
type ClientConfig struct {
	URL               string
	Header            http.Header
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64

	// After BreakerThreshold consecutive failed dials, dials fail fast for
	// BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:               url,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		DialTimeout:       10 * time.Second,
		PingInterval:      25 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 * 1024,
		BreakerThreshold:  10,
		BreakerCooldown:   30 * time.Second,
	}
}

type subscription struct {
	id      uint64
	handler func(domain.Message)
}

// WebSocketClient is the signaling transport over one gorilla WebSocket
// connection. Inbound messages are decoded and handed to subscribers serially
// from the read loop; subscribers may call back into the client.
type WebSocketClient struct {
	cfg     ClientConfig
	dialer  *websocket.Dialer
	breaker *circuitbreaker.CircuitBreaker
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	connectMu sync.Mutex // serializes dials
	writeMu   sync.Mutex

	mu              sync.Mutex
	conn            *websocket.Conn
	done            chan struct{}
	closing         bool
	cancelReconnect context.CancelFunc
	reconnectGen    uint64
	subs            []subscription
	nextSubID       uint64
	connHandlers    []func(bool)
}

var _ ports.SignalingTransport = (*WebSocketClient)(nil)

func NewWebSocketClient(cfg ClientConfig, logger *zap.SugaredLogger) *WebSocketClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:    cfg.BreakerThreshold,
			SuccessThreshold:    1,
			Timeout:             cfg.BreakerCooldown,
			MaxRequestsHalfOpen: 1,
		})
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("signaling dial breaker", "from", from.String(), "to", to.String(), "url", cfg.URL)
		})
	}

	return &WebSocketClient{
		cfg:     cfg,
		breaker: breaker,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		metrics: ports.NopMetrics{},
		logger:  logger,
	}
}

// SetMetrics must be called before Connect.
func (c *WebSocketClient) SetMetrics(m ports.Metrics) {
	c.metrics = m
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the signaling server. It returns nil when already connected.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial must be called with connectMu held.
func (c *WebSocketClient) dial(ctx context.Context) error {
	if c.breaker == nil {
		return c.dialOnce(ctx)
	}
	err := c.breaker.Execute(ctx, func() error { return c.dialOnce(ctx) })
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("dial %s: %w: %w", c.cfg.URL, domain.ErrNotConnected, err)
	}
	return err
}

func (c *WebSocketClient) dialOnce(ctx context.Context) error {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w: %w", c.cfg.URL, domain.ErrNotConnected, err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, domain.ErrNotConnected)
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	if c.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	c.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline(conn)
		return nil
	})

	go c.readLoop(conn, done)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, done)
	}

	c.logger.Infow("signaling connected", "url", c.cfg.URL)
	c.notifyConnection(true)
	return nil
}

func (c *WebSocketClient) extendReadDeadline(conn *websocket.Conn) {
	if c.cfg.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

// Disconnect closes the connection and stops any reconnect in progress.
func (c *WebSocketClient) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()

	c.logger.Infow("signaling disconnected", "url", c.cfg.URL)
	c.notifyConnection(false)
	return err
}

// Send encodes and writes one message. It fails with domain.ErrNotConnected
// while no connection is open.
func (c *WebSocketClient) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), domain.ErrNotConnected)
	}

	ctx, span := tracing.TraceSignal(ctx, "send", string(msg.Kind()))
	defer span.End()

	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *WebSocketClient) Subscribe(handler func(domain.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscription{id: id, handler: handler})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *WebSocketClient) OnConnectionChange(handler func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandlers = append(c.connHandlers, handler)
}

func (c *WebSocketClient) notifyConnection(connected bool) {
	c.mu.Lock()
	handlers := slices.Clone(c.connHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// closed by Disconnect
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warnw("signaling read failed", "error", err)
				} else {
					c.logger.Infow("signaling connection closed", "error", err)
				}
				c.connectionLost(conn)
			}
			return
		}
		c.extendReadDeadline(conn)
		c.dispatch(frame)
	}
}

func (c *WebSocketClient) dispatch(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMessage) {
			c.logger.Debugw("unknown signaling event skipped", "error", err)
		} else {
			c.logger.Warnw("malformed signaling frame skipped", "error", err)
		}
		return
	}

	_, span := tracing.TraceSignal(context.Background(), "receive", string(msg.Kind()))
	defer span.End()

	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(msg)
	}
}

func (c *WebSocketClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debugw("signaling ping failed", "error", err)
				return
			}
		}
	}
}

// connectionLost drops conn and starts reconnecting unless Disconnect was called.
func (c *WebSocketClient) connectionLost(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	close(c.done)
	c.conn, c.done = nil, nil
	closing := c.closing
	var (
		ctx    context.Context
		cancel context.CancelFunc
		gen    uint64
	)
	if !closing && c.cfg.ReconnectAttempts > 0 {
		ctx, cancel = context.WithCancel(context.Background())
		c.reconnectGen++
		c.cancelReconnect, gen = cancel, c.reconnectGen
	}
	c.mu.Unlock()

	conn.Close()
	c.notifyConnection(false)

	if ctx != nil {
		go c.reconnect(ctx, cancel, gen)
	}
}

// reconnect re-dials up to ReconnectAttempts times, waiting ReconnectDelay
// before each dial. Messages sent while disconnected are not replayed. gen
// identifies this loop's entry in cancelReconnect; a newer loop owns it once
// gen is stale.
func (c *WebSocketClient) reconnect(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	cfg := retry.Fixed(c.cfg.ReconnectAttempts-1, c.cfg.ReconnectDelay)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warnw("signaling reconnect failed",
			"attempt", attempt,
			"max_attempts", c.cfg.ReconnectAttempts,
			"retry_in", delay,
			"error", err,
		)
	}

	timer := time.NewTimer(c.cfg.ReconnectDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	err := retry.Retry(ctx, cfg, func(ctx context.Context) error {
		c.connectMu.Lock()
		defer c.connectMu.Unlock()

		c.mu.Lock()
		connected, closing := c.conn != nil, c.closing
		c.mu.Unlock()
		if closing {
			return retry.Permanent(domain.ErrNotConnected)
		}
		if connected {
			return nil
		}
		return c.dial(ctx)
	})

	c.mu.Lock()
	if c.reconnectGen == gen {
		c.cancelReconnect = nil
	}
	c.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			c.logger.Errorw("signaling reconnect gave up", "attempts", c.cfg.ReconnectAttempts, "error", err)
		}
		return
	}
	c.metrics.Reconnected()
	c.logger.Infow("signaling reconnected", "url", c.cfg.URL)
}
