package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrVersionConflict is returned by Save when another writer persisted the
// session state since it was loaded.
var ErrVersionConflict = errors.New("session state version conflict")

// saveScript persists the state only if the stored version still matches
// the version the caller loaded. Missing keys (fresh or expired sessions)
// always accept the write.
const saveScript = `
local cur = redis.call('GET', KEYS[1])
if cur then
	local ver = cjson.decode(cur)['version']
	if ver ~= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// SessionStore keeps each session's live state as a JSON blob in Redis.
// States are never deleted explicitly; they expire via TTL so clients can
// rejoin after a server restart.
type SessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	defaultReadingTime int
	defaultQuizTime    int
}

// NewSessionStore creates a Redis-backed session state store.
func NewSessionStore(rdb *redis.Client, ttl time.Duration, defaultReadingTime, defaultQuizTime int, logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		redis:              rdb,
		ttl:                ttl,
		logger:             logger,
		defaultReadingTime: defaultReadingTime,
		defaultQuizTime:    defaultQuizTime,
	}
}

func (s *SessionStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}

// Load fetches the current state for a session, or a fresh default state
// if none is stored yet.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return NewSessionState(s.defaultReadingTime, s.defaultQuizTime), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if state.Scores == nil {
		state.Scores = map[string]int{}
	}
	if state.IneligibleStudents == nil {
		state.IneligibleStudents = []string{}
	}
	return &state, nil
}

// Save persists the state with a compare-and-set on its version, so at
// most one concurrent writer per session wins. The caller's state carries
// the bumped version on success.
func (s *SessionStore) Save(ctx context.Context, sessionID string, state *SessionState) error {
	loadedVersion := state.Version
	state.Version = loadedVersion + 1

	data, err := json.Marshal(state)
	if err != nil {
		state.Version = loadedVersion
		return fmt.Errorf("marshal session state: %w", err)
	}

	res, err := s.redis.Eval(ctx, saveScript, []string{s.key(sessionID)}, data, loadedVersion, s.ttl.Milliseconds()).Int()
	if err != nil {
		state.Version = loadedVersion
		return fmt.Errorf("save session state: %w", err)
	}
	if res == 0 {
		state.Version = loadedVersion
		return ErrVersionConflict
	}
	return nil
}
