package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger deletes completed sessions older than ttl and reports how many
// were removed.
type Purger interface {
	PurgeExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// Publisher pushes a fresh snapshot to observers.
type Publisher interface {
	Publish(ctx context.Context)
}

// Sweeper periodically purges expired sessions and republishes.
type Sweeper struct {
	purger    Purger
	publisher Publisher
	logger    *logrus.Entry

	mu       sync.Mutex
	ttl      time.Duration
	interval time.Duration
	reset    chan time.Duration
}

func New(purger Purger, publisher Publisher, ttl, interval time.Duration, logger *logrus.Entry) *Sweeper {
	return &Sweeper{
		purger:    purger,
		publisher: publisher,
		logger:    logger,
		ttl:       ttl,
		interval:  interval,
		reset:     make(chan time.Duration, 1),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"ttl":      s.TTL(),
		"interval": s.Interval(),
	}).Info("Sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case d := <-s.reset:
			ticker.Reset(d)
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge followed by an unconditional publish.
func (s *Sweeper) Sweep(ctx context.Context) {
	ttl := s.TTL()
	n, err := s.purger.PurgeExpired(ctx, ttl)
	if err != nil {
		s.logger.WithError(err).Warn("Purge expired sessions failed")
	}
	if n > 0 {
		s.logger.WithFields(logrus.Fields{"purged": n, "ttl": ttl}).Info("Expired sessions purged")
	}
	s.publisher.Publish(ctx)
}

// SetRetention changes ttl and interval for subsequent ticks. Zero values
// keep the current setting.
func (s *Sweeper) SetRetention(ttl, interval time.Duration) {
	s.mu.Lock()
	if ttl > 0 {
		s.ttl = ttl
	}
	changed := interval > 0 && interval != s.interval
	if changed {
		s.interval = interval
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	// Keep only the latest pending interval.
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- interval:
	default:
	}
}

func (s *Sweeper) TTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl
}

func (s *Sweeper) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
