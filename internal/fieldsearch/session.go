package fieldsearch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/fsidx/internal/query"
)

// Clock supplies the current time for session expiry.
type Clock interface {
	Now() time.Time
}

// TokenGenerator creates session tokens.
type TokenGenerator interface {
	Generate() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// uuidTokens generates time-ordered UUIDv7 tokens.
type uuidTokens struct{}

func (uuidTokens) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// session is a paged search in progress.
type session struct {
	query        query.Query
	resultFields []string
	pageSize     int
	offset       int64
	complete     int64
	expires      time.Time
}

type sessions struct {
	mu    sync.Mutex
	byTok map[string]*session
}

func newSessions() *sessions {
	return &sessions{byTok: make(map[string]*session)}
}

func (s *sessions) put(token string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTok[token] = sess
}

// take removes and returns the live session for token. Expired sessions
// are dropped and reported as missing.
func (s *sessions) take(token string, now time.Time) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTok[token]
	if !ok {
		return nil, false
	}
	delete(s.byTok, token)
	if !now.Before(sess.expires) {
		return nil, false
	}
	return sess, true
}

// prune drops expired sessions and returns how many it dropped.
func (s *sessions) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tok, sess := range s.byTok {
		if !now.Before(sess.expires) {
			delete(s.byTok, tok)
			n++
		}
	}
	return n
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTok)
}
