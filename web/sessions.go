package web

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"multisvg/workflow"

	"github.com/google/uuid"
)

const sessionCookie = "multisvg_session"

type session struct {
	id   string
	ctrl *workflow.Controller

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
	notice   string
	detach   func()
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) setNotice(msg string) {
	s.mu.Lock()
	s.notice = msg
	s.mu.Unlock()
}

// takeNotice returns the pending notice once.
func (s *session) takeNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.notice
	s.notice = ""
	return msg
}

// idleSince is zero while an event stream is open.
func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

// Sessions maps browser sessions to their conversion controllers.
type Sessions struct {
	mu    sync.Mutex
	items map[string]*session

	newController func() *workflow.Controller
	// attach runs once per new session and returns its teardown.
	attach func(id string, ctrl *workflow.Controller) func()
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessions(newController func() *workflow.Controller, attach func(string, *workflow.Controller) func(), ttl time.Duration) *Sessions {
	return &Sessions{
		items:         make(map[string]*session),
		newController: newController,
		attach:        attach,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Lookup returns the caller's session without creating one.
func (s *Sessions) Lookup(r *http.Request) *session {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	sess := s.items[c.Value]
	s.mu.Unlock()

	if sess != nil {
		sess.touch(s.now())
	}
	return sess
}

// Get returns the caller's session, creating it and setting the cookie when
// missing or expired.
func (s *Sessions) Get(w http.ResponseWriter, r *http.Request) *session {
	if sess := s.Lookup(r); sess != nil {
		return sess
	}

	sess := &session{
		id:       uuid.NewString(),
		ctrl:     s.newController(),
		lastSeen: s.now(),
	}
	if s.attach != nil {
		sess.detach = s.attach(sess.id, sess.ctrl)
	}

	s.mu.Lock()
	s.items[sess.id] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})

	return sess
}

// Stream keeps sess alive until the returned function is called.
func (s *Sessions) Stream(sess *session) (done func()) {
	sess.mu.Lock()
	sess.streams++
	sess.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sess.mu.Lock()
			sess.streams--
			sess.lastSeen = s.now()
			sess.mu.Unlock()
		})
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep tears down sessions idle for longer than the TTL and returns how
// many were removed.
func (s *Sessions) Sweep(ctx context.Context) int {
	now := s.now()

	var expired []*session
	s.mu.Lock()
	for id, sess := range s.items {
		if sess.idleSince(now) > s.ttl {
			expired = append(expired, sess)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.teardown(ctx, sess)
	}
	return len(expired)
}

func (s *Sessions) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("[Sessions] Starting idle session sweep loop")

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sessions] Shutting down")
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				log.Printf("[Sessions] Closed %d idle sessions", n)
			}
		}
	}
}

// CloseAll tears down every session.
func (s *Sessions) CloseAll(ctx context.Context) {
	s.mu.Lock()
	all := make([]*session, 0, len(s.items))
	for id, sess := range s.items {
		all = append(all, sess)
		delete(s.items, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		s.teardown(ctx, sess)
	}
}

func (s *Sessions) teardown(ctx context.Context, sess *session) {
	if err := sess.ctrl.Close(ctx); err != nil {
		log.Printf("[Sessions] Failed to close session %s: %v", sess.id, err)
	}
	if sess.detach != nil {
		sess.detach()
	}
}
