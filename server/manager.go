package server

import (
	"errors"
	"sync"
	"time"

	"github.com/chaos-io/bgstudio/blob"
	"github.com/chaos-io/bgstudio/session"
	"github.com/chaos-io/bgstudio/util"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

// Factory builds the options for a new session.
type Factory func() session.Options

// Manager owns every live session and evicts idle ones on a cron schedule.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	factory     Factory
	blobs       *blob.Store
	idleTimeout time.Duration
	now         func() time.Time
	cron        *cron.Cron
}

func NewManager(factory Factory, blobs *blob.Store, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    map[string]*session.Session{},
		factory:     factory,
		blobs:       blobs,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

func (m *Manager) Create() *session.Session {
	s := session.New(m.factory())
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	util.Logger.Info("session created", zap.String("session", s.ID()))
	return s
}

func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout, then drops
// blobs no live session references. It returns the number of sessions closed.
func (m *Manager) Sweep() int {
	defer util.Trace("session sweep")()

	m.mu.RLock()
	all := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	cutoff := m.now().Add(-m.idleTimeout)
	keep := map[string]bool{}
	closed := 0
	for _, s := range all {
		last, err := s.LastActive()
		if err == nil && last.After(cutoff) {
			if snap, err := s.Snapshot(); err == nil {
				for _, info := range []*session.ImageInfo{snap.Source, snap.Processed, snap.Composite} {
					if info != nil && info.Handle != "" {
						keep[info.Handle] = true
					}
				}
			}
			continue
		}
		if m.Close(s.ID()) == nil {
			closed++
			util.Logger.Info("idle session evicted", zap.String("session", s.ID()))
		}
	}

	if m.blobs != nil {
		if n := m.blobs.Sweep(m.idleTimeout, keep); n > 0 {
			util.Logger.Info("orphaned blobs removed", zap.Int("count", n))
		}
	}
	return closed
}

// StartJanitor runs Sweep on the given cron spec, e.g. "@every 1m".
func (m *Manager) StartJanitor(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.Sweep() }); err != nil {
		return err
	}
	m.cron = c
	c.Start()
	return nil
}

// Shutdown stops the janitor and closes every session.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}

	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*session.Session{}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
