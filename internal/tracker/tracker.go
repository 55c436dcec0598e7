package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agent-overlay/monitor/internal/hub"
	"github.com/agent-overlay/monitor/internal/session"
)

// Store is the persistence the tracker drives. *store.Store implements it.
type Store interface {
	UpsertSession(ctx context.Context, sessionID, projectPath, projectName string, status session.Status) error
	UpsertAgent(ctx context.Context, sessionID, agentName string, parentSessionID *string, status session.Status) error
	CompareAndSwapSessionStatus(ctx context.Context, sessionID string, from, to session.Status) (bool, error)
	CompareAndSwapAgentStatus(ctx context.Context, sessionID string, from, to session.Status) (int64, error)
	MarkCompleted(ctx context.Context, sessionID string) error
	InsertEvent(ctx context.Context, sessionID, agentName, eventType string, payload []byte) error
	ActiveSessions(ctx context.Context) ([]session.SessionView, error)
	GetSession(ctx context.Context, sessionID string) (session.SessionView, bool, error)
	SessionEvents(ctx context.Context, sessionID string) ([]session.Event, error)
	PurgeAll(ctx context.Context) error
}

// ErrSessionNotFound is returned by GetSession for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Tracker applies hook events to the store and publishes the resulting
// active-session snapshot to the hub.
type Tracker struct {
	store  Store
	hub    *hub.Hub
	logger *logrus.Entry

	// publishMu keeps snapshots reaching the hub in the order they were
	// read. It does not guard session state.
	publishMu sync.Mutex
}

func New(store Store, h *hub.Hub, logger *logrus.Entry) *Tracker {
	return &Tracker{store: store, hub: h, logger: logger}
}

// SubmitEvent validates ev, applies its transition and publishes. Only a
// failed session or agent upsert is returned; other write failures are
// logged and the snapshot is still published.
func (t *Tracker) SubmitEvent(ctx context.Context, ev session.HookEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	tr := session.Resolve(ev)
	log := t.logger.WithFields(logrus.Fields{
		"session_id": ev.SessionID,
		"event_type": ev.EventType,
		"agent":      ev.Agent(),
	})

	switch tr.Kind {
	case session.WriteGuarded:
		changed, err := t.store.CompareAndSwapSessionStatus(ctx, ev.SessionID, tr.From, tr.Session)
		if err != nil {
			log.WithError(err).Warn("Guarded session transition failed")
		}
		agents, err := t.store.CompareAndSwapAgentStatus(ctx, ev.SessionID, tr.From, tr.Agent)
		if err != nil {
			log.WithError(err).Warn("Guarded agent transition failed")
		}
		log.WithFields(logrus.Fields{"session_changed": changed, "agents_changed": agents}).Debug("Stop applied")
		t.logEvent(ctx, log, ev, session.EmptyPayload)

	case session.WriteComplete:
		if err := t.store.MarkCompleted(ctx, ev.SessionID); err != nil {
			log.WithError(err).Warn("Mark completed failed")
		}
		t.logEvent(ctx, log, ev, session.EmptyPayload)

	default:
		path, name := ev.Project()
		if err := t.store.UpsertSession(ctx, ev.SessionID, path, name, tr.Session); err != nil {
			log.WithError(err).Error("Session upsert failed")
			return err
		}
		if err := t.store.UpsertAgent(ctx, ev.SessionID, ev.Agent(), ev.Parent(), tr.Agent); err != nil {
			log.WithError(err).Error("Agent upsert failed")
			return err
		}
		t.logEvent(ctx, log, ev, ev.Payload())
	}

	t.Publish(ctx)
	return nil
}

func (t *Tracker) logEvent(ctx context.Context, log *logrus.Entry, ev session.HookEvent, payload []byte) {
	if err := t.store.InsertEvent(ctx, ev.SessionID, ev.Agent(), ev.EventType, payload); err != nil {
		log.WithError(err).Warn("Event log insert failed")
	}
}

// ListActiveSessions returns the current non-completed sessions.
func (t *Tracker) ListActiveSessions(ctx context.Context) ([]session.SessionView, error) {
	return t.store.ActiveSessions(ctx)
}

// GetSession returns one session with its agents, completed or not.
func (t *Tracker) GetSession(ctx context.Context, sessionID string) (session.SessionView, error) {
	view, ok, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.SessionView{}, err
	}
	if !ok {
		return session.SessionView{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return view, nil
}

// SessionEvents returns the audit log of one session.
func (t *Tracker) SessionEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	return t.store.SessionEvents(ctx, sessionID)
}

// TerminateSession completes a session and its agents on operator request.
// An unknown id is not an error.
func (t *Tracker) TerminateSession(ctx context.Context, sessionID string) error {
	if err := t.store.MarkCompleted(ctx, sessionID); err != nil {
		return err
	}
	t.logger.WithField("session_id", sessionID).Info("Session terminated")
	t.Publish(ctx)
	return nil
}

// ResetAll deletes every session, agent and event.
func (t *Tracker) ResetAll(ctx context.Context) error {
	if err := t.store.PurgeAll(ctx); err != nil {
		return err
	}
	t.logger.Info("All sessions cleared")
	t.Publish(ctx)
	return nil
}

// Publish re-reads the active sessions and pushes one serialized snapshot
// to every subscriber. Failures are logged; a missed publish is repaired by
// the next one.
func (t *Tracker) Publish(ctx context.Context) {
	if t.hub.ReceiverCount() == 0 {
		return
	}
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	data, err := t.snapshot(ctx)
	if err != nil {
		t.logger.WithError(err).Warn("Snapshot for publish failed")
		return
	}
	n := t.hub.Publish(data)
	t.logger.WithFields(logrus.Fields{"subscribers": n, "bytes": len(data)}).Debug("Snapshot published")
}

func (t *Tracker) snapshot(ctx context.Context) ([]byte, error) {
	views, err := t.store.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Subscribers reports how many observers are attached.
func (t *Tracker) Subscribers() int {
	return t.hub.ReceiverCount()
}

// Subscribe registers an observer. The first Next returns the state at
// subscribe time; later calls return live snapshots. The receiver is
// attached before the initial read, so no publish in between is lost.
func (t *Tracker) Subscribe(ctx context.Context) (*Subscription, error) {
	recv := t.hub.Subscribe()
	initial, err := t.snapshot(ctx)
	if err != nil {
		recv.Close()
		return nil, err
	}
	return &Subscription{recv: recv, initial: initial, logger: t.logger}, nil
}

// Subscription is one observer's stream of snapshots.
type Subscription struct {
	recv    *hub.Receiver
	initial []byte
	logger  *logrus.Entry
}

// Next returns the next serialized snapshot. Lag is absorbed and logged,
// since every snapshot supersedes the ones before it. It returns
// hub.ErrClosed once the subscription or hub is closed.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	if s.initial != nil {
		msg := s.initial
		s.initial = nil
		return msg, nil
	}
	for {
		msg, err := s.recv.Recv(ctx)
		var lagged *hub.LaggedError
		if errors.As(err, &lagged) {
			s.logger.WithField("missed", lagged.Missed).Warn("Subscriber lagged")
			continue
		}
		return msg, err
	}
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.recv.Close()
}
