package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AISRelay/internal/config"
	"AISRelay/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is a point in a session's connection lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateReconnecting
	StateClosed    // peer closed cleanly, terminal
	StateExhausted // retries used up, terminal
	StateStopped   // stopped by the operator, terminal
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateExhausted:
		return "exhausted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further connection attempt follows this state.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateExhausted || s == StateStopped
}

// StateListener is notified after every state transition of a session.
type StateListener interface {
	SessionStateChanged(shard int, state SessionState)
}

// SessionConfig is shared by every session of the process.
type SessionConfig struct {
	URL           string
	APIKey        string
	BoundingBoxes []config.BoundingBox
	MaxRetries    int
	RetryDelay    time.Duration
}

// Subscription is the single message sent after a connection opens.
type Subscription struct {
	APIKey             string               `json:"APIKey"`
	BoundingBoxes      []config.BoundingBox `json:"BoundingBoxes"`
	FiltersShipMMSI    []string             `json:"FiltersShipMMSI"`
	FilterMessageTypes []string             `json:"FilterMessageTypes"`
}

// SessionStatus is a read-only view of a session.
type SessionStatus struct {
	ID       string   `json:"session_id"`
	Shard    int      `json:"shard"`
	State    string   `json:"state"`
	Attempts int      `json:"attempts"`
	MMSI     []string `json:"mmsi"`
}

// Session owns one stream connection for one group of vessel ids and keeps
// it alive until stopped or until its retries are exhausted.
//
// The retry counter is never reset, not even after a successful open: a
// session gets MaxRetries failures over its whole lifetime.
type Session struct {
	id       uuid.UUID
	shard    int
	group    []string
	cfg      SessionConfig
	dialer   Dialer
	decoder  *Decoder
	metrics  *observability.Metrics
	listener StateListener
	log      zerolog.Logger

	// notifyMu is held from a state write until its listener call returns,
	// so listeners see transitions in the order they happened.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    SessionState
	attempts int
	conn     Conn
	stopped  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSession(
	shard int,
	group []string,
	cfg SessionConfig,
	dialer Dialer,
	decoder *Decoder,
	metrics *observability.Metrics,
	listener StateListener,
	log zerolog.Logger,
) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		shard:    shard,
		group:    group,
		cfg:      cfg,
		dialer:   dialer,
		decoder:  decoder,
		metrics:  metrics,
		listener: listener,
		log: log.With().
			Str("session_id", id.String()).
			Int("shard", shard).
			Logger(),
		state:  StateConnecting,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run drives the connection lifecycle. It blocks until the session reaches a
// terminal state or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
			// ReadMessage does not observe ctx.
			s.closeConn()
		}
	}()

	for {
		if s.isStopped() || ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if err != nil {
			if s.isStopped() || ctx.Err() != nil {
				s.setState(StateStopped)
				return
			}
			s.log.Error().Err(err).Msg("stream connect failed")
			if !s.retry(ctx) {
				return
			}
			continue
		}

		if !s.attach(ctx, conn) {
			conn.Close()
			s.setState(StateStopped)
			return
		}
		s.setState(StateOpen)
		if s.metrics != nil {
			s.metrics.SessionConnects.WithLabelValues(s.shardLabel()).Inc()
		}
		s.log.Info().Int("vessels", len(s.group)).Msg("stream connected")

		err = s.serve(conn)
		s.detach(conn)

		if s.isStopped() || ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}
		if isCleanClose(err) {
			s.log.Warn().Msg("stream closed by peer")
			s.setState(StateClosed)
			return
		}

		s.log.Error().Err(err).Msg("stream connection lost")
		if !s.retry(ctx) {
			return
		}
	}
}

// serve sends the subscription and feeds every frame to the decoder
// until the connection fails.
func (s *Session) serve(conn Conn) error {
	if err := conn.WriteJSON(s.Subscription()); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.FramesReceived.WithLabelValues(s.shardLabel()).Inc()
		}
		s.decoder.Handle(frame)
	}
}

// retry counts one failure and, while the budget allows, waits out the
// reconnect delay. It returns false when the session must not reconnect.
func (s *Session) retry(ctx context.Context) bool {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if attempt >= s.cfg.MaxRetries {
		s.setState(StateExhausted)
		s.log.Error().
			Int("attempt", attempt).
			Strs("mmsi", s.group).
			Msg("max retries exceeded, giving up on shard")
		if s.metrics != nil {
			s.metrics.SessionsExhausted.Inc()
		}
		return false
	}

	s.setState(StateReconnecting)
	s.log.Info().
		Int("attempt", attempt).
		Dur("delay", s.cfg.RetryDelay).
		Msg("reconnecting")
	if s.metrics != nil {
		s.metrics.SessionReconnects.WithLabelValues(s.shardLabel()).Inc()
	}

	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		s.setState(StateStopped)
		return false
	}
}

// Stop closes the connection immediately, whatever the current state, and
// cancels any pending reconnect. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.setState(StateStopped)
		close(s.stopCh)
		s.closeConn()
		s.log.Info().Msg("session stopped")
	})
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of failures counted so far.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Shard returns the index of the session's vessel group.
func (s *Session) Shard() int {
	return s.shard
}

// Status returns a snapshot of the session for the status surface.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		ID:       s.id.String(),
		Shard:    s.shard,
		State:    s.state.String(),
		Attempts: s.attempts,
		MMSI:     append([]string(nil), s.group...),
	}
}

// Subscription builds the message sent once per opened connection.
func (s *Session) Subscription() Subscription {
	return Subscription{
		APIKey:             s.cfg.APIKey,
		BoundingBoxes:      s.cfg.BoundingBoxes,
		FiltersShipMMSI:    s.group,
		FilterMessageTypes: []string{MessageTypePositionReport},
	}
}

func (s *Session) attach(ctx context.Context, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) detach(conn Conn) {
	s.mu.Lock()
	owned := s.conn == conn
	if owned {
		s.conn = nil
	}
	s.mu.Unlock()

	if owned {
		conn.Close()
	}
}

// closeConn drops the current connection, if any, unblocking serve.
func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// setState records a transition. Terminal states are sticky.
func (s *Session) setState(next SessionState) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionState.WithLabelValues(s.shardLabel()).Set(float64(next))
	}
	if s.listener != nil {
		s.listener.SessionStateChanged(s.shard, next)
	}
}

func (s *Session) shardLabel() string {
	return strconv.Itoa(s.shard)
}
