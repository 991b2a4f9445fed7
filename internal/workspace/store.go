// Package workspace keeps the page flows of each browser between requests.
// A workspace is addressed by an opaque id carried in the console cookie.
package workspace

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"habilitations/internal/authflow"
	"habilitations/internal/directory"
	"habilitations/internal/recovery"
)

type Backend interface {
	authflow.Backend
	recovery.Backend
	directory.Backend
}

// Workspace bundles the flows of one browser.
type Workspace struct {
	ID        string
	Login     *authflow.Flow
	Reset     *recovery.RequestFlow
	Directory *directory.Manager
	Create    *directory.CreationForm

	backend recovery.Backend

	mu         sync.Mutex
	completion *recovery.Completion
	lastSeen   time.Time
}

func newWorkspace(id string, b Backend, now time.Time) *Workspace {
	return &Workspace{
		ID:        id,
		Login:     authflow.New(b),
		Reset:     recovery.NewRequestFlow(b),
		Directory: directory.NewManager(b),
		Create:    directory.NewCreationForm(b),
		backend:   b,
		lastSeen:  now,
	}
}

// Completion returns the password-update flow for the link described by
// query, starting a new one when the token changes.
func (w *Workspace) Completion(query url.Values) *recovery.Completion {
	w.mu.Lock()
	defer w.mu.Unlock()
	token := strings.TrimSpace(query.Get("token"))
	if w.completion != nil && token != "" && string(w.completion.Snapshot().Token) == token {
		return w.completion
	}
	if w.completion != nil {
		w.completion.Unmount()
	}
	w.completion = recovery.NewCompletion(w.backend, query)
	return w.completion
}

func (w *Workspace) unmount() {
	w.Login.Unmount()
	w.Reset.Unmount()
	w.Directory.Unmount()
	w.Create.Unmount()
	w.mu.Lock()
	if w.completion != nil {
		w.completion.Unmount()
	}
	w.mu.Unlock()
}

// Store holds workspaces in memory and forgets them after an idle period.
type Store struct {
	backend Backend
	idle    time.Duration
	log     log.FieldLogger
	now     func() time.Time

	mu     sync.Mutex
	items  map[string]*Workspace
	lastGC time.Time
}

func NewStore(b Backend, idle time.Duration, logger log.FieldLogger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Store{backend: b, idle: idle, log: logger, now: now, items: map[string]*Workspace{}, lastGC: now()}
}

// Get returns the live workspace for id and marks it used.
func (s *Store) Get(id string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.collect(now)
	w, ok := s.items[id]
	if !ok {
		return nil, false
	}
	if now.Sub(w.lastSeen) > s.idle {
		s.drop(id)
		return nil, false
	}
	w.lastSeen = now
	return w, true
}

// Ensure returns the workspace for id, creating a fresh one under a new id
// when it is unknown or expired.
func (s *Store) Ensure(id string) (w *Workspace, created bool) {
	if w, ok := s.Get(id); ok {
		return w, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w = newWorkspace(uuid.NewString(), s.backend, s.now())
	s.items[w.ID] = w
	return w, true
}

// Drop unmounts every flow of the workspace and forgets it.
func (s *Store) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) drop(id string) {
	w, ok := s.items[id]
	if !ok {
		return
	}
	delete(s.items, id)
	w.unmount()
}

func (s *Store) collect(now time.Time) {
	if now.Sub(s.lastGC) <= time.Minute {
		return
	}
	n := 0
	for id, w := range s.items {
		if now.Sub(w.lastSeen) > s.idle {
			s.drop(id)
			n++
		}
	}
	s.lastGC = now
	if n > 0 {
		s.log.WithField("expired", n).Debug("workspaces collected")
	}
}
