package supervisor

import (
	"context"
	"sort"
	"sync"

	"AISRelay/internal/ingestion"

	"github.com/rs/zerolog"
)

// Flusher runs one persistence cycle.
type Flusher interface {
	Flush(ctx context.Context) error
}

// RelayObserver is told how many sessions are open and whether shutdown
// has begun, each time either changes.
type RelayObserver interface {
	RelayStateChanged(openSessions int, shuttingDown bool)
}

type relayState struct {
	open    int
	closing bool
}

// Coordinator owns the sessions of the process and drives the ordered
// shutdown: stop every session, then flush exactly once.
//
// It also listens to session state changes and reports the open session
// count to its observers.
type Coordinator struct {
	flusher   Flusher
	observers []RelayObserver
	log       zerolog.Logger

	// notifyMu keeps observer calls in transition order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	sessions []*ingestion.Session
	open      map[int]bool
	closing   bool
	published relayState

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewCoordinator(flusher Flusher, log zerolog.Logger, observers ...RelayObserver) *Coordinator {
	return &Coordinator{
		flusher:   flusher,
		observers: observers,
		log:       log,
		open:      make(map[int]bool),
	}
}

// Register adds a session to the shutdown set.
func (c *Coordinator) Register(s *ingestion.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s)
}

// SessionStateChanged implements ingestion.StateListener.
func (c *Coordinator) SessionStateChanged(shard int, st ingestion.SessionState) {
	c.mu.Lock()
	if st == ingestion.StateOpen {
		c.open[shard] = true
	} else {
		delete(c.open, shard)
	}
	c.mu.Unlock()

	c.publishReadiness()
}

// OpenSessions returns how many sessions are currently open.
func (c *Coordinator) OpenSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// Statuses lists every registered session ordered by shard.
func (c *Coordinator) Statuses() []ingestion.SessionStatus {
	c.mu.Lock()
	sessions := append([]*ingestion.Session(nil), c.sessions...)
	c.mu.Unlock()

	out := make([]ingestion.SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	return out
}

// Shutdown stops every session, waits for them to return and then flushes
// once. The flush waits behind any flush already in progress. Later calls
// return the first call's result without doing anything.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	sessions := append([]*ingestion.Session(nil), c.sessions...)
	c.mu.Unlock()
	c.publishReadiness()

	c.log.Info().Int("sessions", len(sessions)).Msg("stopping sessions")
	for _, s := range sessions {
		s.Stop()
	}

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			c.log.Warn().Int("shard", s.Shard()).Msg("session did not stop before deadline")
		}
	}

	c.log.Info().Msg("writing final snapshot")
	if err := c.flusher.Flush(ctx); err != nil {
		c.log.Error().Err(err).Msg("final snapshot failed")
		return err
	}
	c.log.Info().Msg("shutdown complete")
	return nil
}

func (c *Coordinator) publishReadiness() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	next := relayState{open: len(c.open), closing: c.closing}
	changed := next != c.published
	c.published = next
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range c.observers {
		o.RelayStateChanged(next.open, next.closing)
	}
}
