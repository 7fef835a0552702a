package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrReplayBackend wraps Redis failures of the TOTP step store.
var ErrReplayBackend = errors.New("totp step store unavailable")

// claimStepScript stores ARGV[1] as the user's last accepted step when it is
// newer than the stored one.
var claimStepScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// TOTPStepStore remembers the last accepted TOTP time step per user so a
// code cannot be used twice inside its validity window.
type TOTPStepStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTOTPStepStore(redisClient redis.UniversalClient, prefix string) *TOTPStepStore {
	if prefix == "" {
		prefix = "totp_step"
	}
	return &TOTPStepStore{redis: redisClient, prefix: prefix}
}

func (s *TOTPStepStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Claim records step for userID and reports false when step is not newer
// than the last claimed step. ttl must cover the verification window.
func (s *TOTPStepStore) Claim(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	res, err := claimStepScript.Run(ctx, s.redis, []string{s.key(userID)},
		strconv.FormatInt(step, 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	return res == 1, nil
}

// Forget drops the stored step, used when 2FA is disabled.
func (s *TOTPStepStore) Forget(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	return nil
}
