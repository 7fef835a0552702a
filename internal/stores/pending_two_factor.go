package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingRecordVersion1 = 1

	pendingFlagRememberMe byte = 1 << 0
)

var (
	ErrPendingNotFound = errors.New("pending two-factor session not found")
	ErrPendingBackend  = errors.New("pending two-factor backend unavailable")
	ErrPendingCorrupt  = errors.New("pending two-factor record corrupt")
)

// PendingTwoFactor is the state kept between a verified password and a
// verified second factor.
type PendingTwoFactor struct {
	UserID     string
	CreatedAt  time.Time
	Attempts   uint16
	RememberMe bool
}

// PendingTwoFactorStore keeps pending records in Redis under an opaque ID.
// Redis expiry removes abandoned records; callers still compare CreatedAt
// against their own clock.
type PendingTwoFactorStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingTwoFactorStore(redisClient redis.UniversalClient, prefix string) *PendingTwoFactorStore {
	if prefix == "" {
		prefix = "p2fa"
	}
	return &PendingTwoFactorStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PendingTwoFactorStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *PendingTwoFactorStore) Save(ctx context.Context, id string, record *PendingTwoFactor, ttl time.Duration) error {
	encoded, err := encodePendingTwoFactor(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return nil
}

func (s *PendingTwoFactorStore) Get(ctx context.Context, id string) (*PendingTwoFactor, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return decodePendingTwoFactor(data)
}

// Delete removes the record and reports whether it existed. Two racing
// successful verifications see exactly one true.
func (s *PendingTwoFactorStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under WATCH/MULTI and
// returns the new count. When the count reaches maxAttempts the record is
// deleted and exceeded is true.
func (s *PendingTwoFactorStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (attempts int, exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		attempts, exceeded = 0, false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePendingTwoFactor(data)
			if err != nil {
				return err
			}

			record.Attempts++
			attempts = int(record.Attempts)
			if attempts >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodePendingTwoFactor(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, false, ErrPendingNotFound
			}
			if errors.Is(err, ErrPendingCorrupt) {
				return 0, false, err
			}
			return 0, false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
		}
		return attempts, exceeded, nil
	}

	return 0, false, fmt.Errorf("%w: contention on %s", ErrPendingBackend, id)
}

func encodePendingTwoFactor(record *PendingTwoFactor) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}

	var flags byte
	if record.RememberMe {
		flags |= pendingFlagRememberMe
	}
	buf.WriteByte(flags)

	if len(record.UserID) > 65535 {
		return nil, errors.New("pending two-factor user id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodePendingTwoFactor(data []byte) (*PendingTwoFactor, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrPendingCorrupt
	}
	if version != pendingRecordVersion1 {
		return nil, fmt.Errorf("%w: version %d", ErrPendingCorrupt, version)
	}

	record := &PendingTwoFactor{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, ErrPendingCorrupt
	}
	var createdMillis int64
	if err := binary.Read(reader, binary.BigEndian, &createdMillis); err != nil {
		return nil, ErrPendingCorrupt
	}
	record.CreatedAt = time.UnixMilli(createdMillis)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrPendingCorrupt
	}
	record.RememberMe = flags&pendingFlagRememberMe != 0

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, ErrPendingCorrupt
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, ErrPendingCorrupt
	}
	record.UserID = string(user)

	return record, nil
}
