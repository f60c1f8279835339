// internal/admission/sessions.go
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCapacityExhausted is returned by Admit when the global session ceiling is reached.
var ErrCapacityExhausted = errors.New("maximum number of concurrent sessions reached")

// admitScript adds ARGV[1] to the set unless it already holds ARGV[2] members.
// Reject leaves the set untouched.
var admitScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// SessionSet bounds the number of concurrently running sessions across every
// process sharing the same Redis.
type SessionSet struct {
	client redis.Cmdable
	key    string
	limit  int
	logger *zap.Logger
}

// NewSessionSet tracks sessions in the Redis set at key, admitting at most limit.
func NewSessionSet(client redis.Cmdable, key string, limit int, logger *zap.Logger) (*SessionSet, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("session ceiling must be positive, got %d", limit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSet{client: client, key: key, limit: limit, logger: logger.Named("admission.sessions")}, nil
}

// Admit reserves a slot for session. Callers must Release it on every exit path.
func (s *SessionSet) Admit(ctx context.Context, session string) error {
	ok, err := admitScript.Run(ctx, s.client, []string{s.key}, session, s.limit).Int()
	if err != nil {
		return fmt.Errorf("failed to admit session: %w", err)
	}
	if ok == 0 {
		s.logger.Info("Session rejected, ceiling reached.", zap.String("session", session), zap.Int("limit", s.limit))
		return ErrCapacityExhausted
	}
	return nil
}

// Release frees the session's slot. Releasing an unknown session is a no-op.
func (s *SessionSet) Release(ctx context.Context, session string) error {
	if err := s.client.SRem(ctx, s.key, session).Err(); err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}
	return nil
}

// Count returns the number of admitted sessions.
func (s *SessionSet) Count(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
