package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
)

// ErrNotConnected is returned by Publish while no broker connection is open.
var ErrNotConnected = errors.New("broker not connected")

// Config describes one broker session.
type Config struct {
	URL      string
	Exchange string
	Prefetch int
	Name     string
	Policy   ReconnectPolicy
	// Declare lists queues asserted on every connect even when this
	// process does not consume them.
	Declare []Binding
}

type subscription struct {
	binding Binding
	handler Handler
}

// Session owns one broker connection, a publishing channel and the registered
// consumers. Run supervises it, reconnecting with backoff after failures.
type Session struct {
	cfg     Config
	log     *zap.Logger
	dial    func(cfg Config) (*amqp.Connection, error)
	wait    func(ctx context.Context, d time.Duration) bool
	breaker *CircuitBreaker
	jitter  func() float64

	mu         sync.Mutex
	conn       *amqp.Connection
	connCancel context.CancelFunc
	pub        *amqp.Channel
	subs       []subscription
	runWG      sync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewSession creates a session; nothing is dialled until Run.
func NewSession(cfg Config, log *zap.Logger) *Session {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	def := DefaultReconnectPolicy()
	if cfg.Policy.InitialBackoff <= 0 {
		cfg.Policy.InitialBackoff = def.InitialBackoff
	}
	if cfg.Policy.MaxBackoff <= 0 {
		cfg.Policy.MaxBackoff = def.MaxBackoff
	}
	if cfg.Policy.Multiplier < 1 {
		cfg.Policy.Multiplier = def.Multiplier
	}
	if cfg.Policy.MaxRetries <= 0 {
		cfg.Policy.MaxRetries = def.MaxRetries
	}
	if cfg.Policy.Cooldown <= 0 {
		cfg.Policy.Cooldown = def.Cooldown
	}
	return &Session{
		cfg:     cfg,
		log:     log.Named("mq"),
		dial:    dialBroker,
		wait:    sleep,
		breaker: NewCircuitBreaker(cfg.Policy.MaxRetries, cfg.Policy.Cooldown),
		jitter:  defaultJitterSource(),
	}
}

func dialBroker(cfg Config) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	if cfg.Name != "" {
		props.SetClientConnectionName(cfg.Name)
	}
	return amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	})
}

// Subscribe registers a consumer for b. It must be called before Run; the
// binding is re-declared and the consumer restarted after every reconnect.
func (s *Session) Subscribe(b Binding, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{binding: b, handler: h})
}

// Run connects and keeps the session connected until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	if s.done != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("session already running")
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	defer close(s.done)
	defer cancel()

	attempt := 0
	for ctx.Err() == nil {
		if err := s.breaker.Allow(); err != nil {
			d := s.breaker.RemainingCooldown()
			s.log.Warn("broker circuit open, pausing reconnects", zap.Duration("for", d))
			if !s.wait(ctx, d) {
				break
			}
			continue
		}

		metrics.RecordReconnectAttempt()
		closed, lost, err := s.connect(ctx)
		if err != nil {
			s.breaker.RecordFailure()
			attempt++
			d := s.cfg.Policy.Backoff(attempt, s.jitter)
			s.log.Warn("broker connect failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", d),
				zap.String("circuit", s.breaker.State().String()),
				zap.Error(err))
			if !s.wait(ctx, d) {
				break
			}
			continue
		}

		s.breaker.RecordSuccess()
		attempt = 0
		metrics.SetBrokerConnected(true)
		s.log.Info("broker session established", zap.String("exchange", s.cfg.Exchange))

		select {
		case <-ctx.Done():
		case amqpErr := <-closed:
			s.log.Warn("broker connection lost", zap.Any("reason", amqpErr))
		case reason := <-lost:
			s.log.Warn("broker channel lost, reconnecting", zap.String("reason", reason))
		}
		s.teardown()
		metrics.SetBrokerConnected(false)
	}
	s.teardown()
	return nil
}

// connect dials, declares the topology and starts every consumer. closed
// reports the connection going away; lost reports any single channel closing
// or being cancelled while the connection stays up.
func (s *Session) connect(ctx context.Context) (closed <-chan *amqp.Error, lost <-chan string, err error) {
	conn, err := s.dial(s.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	connCtx, connCancel := context.WithCancel(ctx)
	fail := func(err error) (<-chan *amqp.Error, <-chan string, error) {
		connCancel()
		_ = conn.Close()
		s.runWG.Wait()
		return nil, nil, err
	}

	s.mu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.mu.Unlock()
	lostCh := make(chan string, 1)

	pub, err := conn.Channel()
	if err != nil {
		return fail(fmt.Errorf("open publish channel: %w", err))
	}
	if err := declareExchange(pub, s.cfg.Exchange); err != nil {
		return fail(fmt.Errorf("declare exchange %s: %w", s.cfg.Exchange, err))
	}
	// publishers declare the queues too, so events sent before any consumer ran are kept
	for _, b := range s.bindings(subs) {
		if err := declareBinding(pub, s.cfg.Exchange, b); err != nil {
			return fail(fmt.Errorf("declare queue %s: %w", b.Queue, err))
		}
	}
	watchChannel(lostCh, "publish channel", pub.NotifyClose(make(chan *amqp.Error, 1)), nil)

	for _, sub := range subs {
		ch, err := conn.Channel()
		if err != nil {
			return fail(fmt.Errorf("open consumer channel: %w", err))
		}
		if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
			return fail(fmt.Errorf("set qos: %w", err))
		}
		if err := declareBinding(ch, s.cfg.Exchange, sub.binding); err != nil {
			return fail(fmt.Errorf("declare queue %s: %w", sub.binding.Queue, err))
		}
		deliveries, err := ch.Consume(sub.binding.Queue, "", false, false, false, false, nil)
		if err != nil {
			return fail(fmt.Errorf("consume %s: %w", sub.binding.Queue, err))
		}
		name := "consumer " + sub.binding.Queue
		watchChannel(lostCh, name,
			ch.NotifyClose(make(chan *amqp.Error, 1)),
			ch.NotifyCancel(make(chan string, 1)))

		log := s.log.With(zap.String("queue", sub.binding.Queue))
		s.runWG.Add(1)
		go func(h Handler) {
			defer s.runWG.Done()
			if consume(connCtx, deliveries, h, log) {
				log.Warn("deliveries closed, consumer stopped")
				notifyLost(lostCh, name+" deliveries closed")
			}
		}(sub.handler)
	}

	s.mu.Lock()
	s.conn = conn
	s.connCancel = connCancel
	s.pub = pub
	s.mu.Unlock()
	return conn.NotifyClose(make(chan *amqp.Error, 1)), lostCh, nil
}

// bindings returns the subscribed bindings plus the publisher-side ones
// configured for queues nobody in this process consumes.
func (s *Session) bindings(subs []subscription) []Binding {
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		seen[sub.binding.Queue] = true
	}
	var out []Binding
	for _, b := range s.cfg.Declare {
		if !seen[b.Queue] {
			out = append(out, b)
		}
	}
	return out
}

// watchChannel reports the first close or cancel notification on lost.
func watchChannel(lost chan<- string, name string, closes <-chan *amqp.Error, cancels <-chan string) {
	go func() {
		select {
		case err, ok := <-closes:
			if ok && err != nil {
				notifyLost(lost, fmt.Sprintf("%s closed: %s", name, err.Error()))
				return
			}
			notifyLost(lost, name+" closed")
		case tag, ok := <-cancels:
			if ok {
				notifyLost(lost, fmt.Sprintf("%s cancelled by broker (%s)", name, tag))
				return
			}
			notifyLost(lost, name+" closed")
		}
	}()
}

func notifyLost(lost chan<- string, reason string) {
	select {
	case lost <- reason:
	default:
	}
}

// teardown stops the consumers, waits for their current message, then closes the connection.
func (s *Session) teardown() {
	s.mu.Lock()
	conn, connCancel := s.conn, s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.pub = nil
	s.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	s.runWG.Wait()
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

// Publish sends payload as persistent JSON under routingKey.
func (s *Session) Publish(ctx context.Context, routingKey string, payload any, messageID string) (err error) {
	defer func() { metrics.RecordPublish(routingKey, err) }()

	if s.breaker.State() == CircuitOpen {
		return ErrCircuitOpen
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", routingKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pub == nil {
		return ErrNotConnected
	}
	return s.pub.PublishWithContext(ctx, s.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close stops Run and waits for it to release the connection. A session
// closed before Run starts never connects.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
