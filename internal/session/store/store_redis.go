package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"aegis/internal/session/models"
	"aegis/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "aegis:session:"
	deviceKeyPrefix  = "aegis:session:device:"
	expiryKey        = "aegis:session:expiry"

	// DefaultRetention keeps a record this long past its expiry so late
	// validations still see "expired" rather than "not found".
	DefaultRetention = 24 * time.Hour

	sweepBatch = 500
)

var errSkip = errors.New("skip")

type sessionJSON struct {
	ID                string `json:"id"`
	TokenHash         string `json:"token_hash"`
	DeviceFingerprint string `json:"device_fingerprint"`
	LastFingerprint   string `json:"last_fingerprint,omitempty"`
	CreatedAt         int64  `json:"created_at"`    // Unix nano
	ExpiresAt         int64  `json:"expires_at"`    // Unix nano
	LastActivity      int64  `json:"last_activity"` // Unix nano
	SecurityScore     int    `json:"security_score"`
	UserAgent         string `json:"user_agent"`
	IPAddress         string `json:"ip_address,omitempty"`
	IsActive          bool   `json:"is_active"`
	DeactivatedReason string `json:"deactivated_reason,omitempty"`
	DeactivatedAt     *int64 `json:"deactivated_at,omitempty"` // Unix nano
}

func sessionToJSON(s *models.Session) *sessionJSON {
	j := &sessionJSON{
		ID:                s.ID.String(),
		TokenHash:         s.TokenHash,
		DeviceFingerprint: s.DeviceFingerprint,
		LastFingerprint:   s.LastFingerprint,
		CreatedAt:         s.CreatedAt.UnixNano(),
		ExpiresAt:         s.ExpiresAt.UnixNano(),
		LastActivity:      s.LastActivity.UnixNano(),
		SecurityScore:     s.SecurityScore,
		UserAgent:         s.UserAgent,
		IPAddress:         s.IPAddress,
		IsActive:          s.IsActive,
		DeactivatedReason: string(s.DeactivatedReason),
	}
	if s.DeactivatedAt != nil {
		ts := s.DeactivatedAt.UnixNano()
		j.DeactivatedAt = &ts
	}
	return j
}

func sessionFromJSON(j *sessionJSON) (*models.Session, error) {
	id, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	s := &models.Session{
		ID:                id,
		TokenHash:         j.TokenHash,
		DeviceFingerprint: j.DeviceFingerprint,
		LastFingerprint:   j.LastFingerprint,
		CreatedAt:         time.Unix(0, j.CreatedAt),
		ExpiresAt:         time.Unix(0, j.ExpiresAt),
		LastActivity:      time.Unix(0, j.LastActivity),
		SecurityScore:     j.SecurityScore,
		UserAgent:         j.UserAgent,
		IPAddress:         j.IPAddress,
		IsActive:          j.IsActive,
		DeactivatedReason: models.DeactivationReason(j.DeactivatedReason),
	}
	if j.DeactivatedAt != nil {
		t := time.Unix(0, *j.DeactivatedAt)
		s.DeactivatedAt = &t
	}
	return s, nil
}

func decode(data string) (*models.Session, error) {
	var j sessionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sessionFromJSON(&j)
}

// RedisStore shares sessions across instances. Records live under their id
// with a TTL of expiry plus retention; a per-device set indexes them for the
// capacity check and a sorted set orders them by expiry for the sweeper.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

type RedisOption func(*RedisStore)

func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

// deviceKey hashes the fingerprint so descriptors never appear in key names.
func deviceKey(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return deviceKeyPrefix + hex.EncodeToString(sum[:16])
}

func (s *RedisStore) ttlFor(session *models.Session, now time.Time) time.Duration {
	ttl := session.ExpiresAt.Sub(now) + s.retention
	if ttl <= 0 {
		return s.retention
	}
	return ttl
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	data, err := json.Marshal(sessionToJSON(session))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := s.ttlFor(session, session.CreatedAt)
	dKey := deviceKey(session.DeviceFingerprint)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		pipe.SAdd(ctx, dKey, session.ID.String())
		pipe.Expire(ctx, dKey, ttl)
		pipe.ZAdd(ctx, expiryKey, redis.Z{
			Score:  float64(session.ExpiresAt.UnixMilli()),
			Member: session.ID.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return decode(data)
}

// Execute validates and mutates a session under an optimistic WATCH on its
// key. A concurrent write aborts the transaction with sentinel.ErrConflict.
func (s *RedisStore) Execute(ctx context.Context, id uuid.UUID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	key := sessionKey(id)
	var result *models.Session

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get session for execute: %w", err)
		}
		session, err := decode(data)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(session); err != nil {
				return err
			}
		}
		mutate(session)

		newData, err := json.Marshal(sessionToJSON(session))
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = s.retention
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, ttl)
			if !session.IsActive {
				pipe.ZRem(ctx, expiryKey, id.String())
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = session
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("session modified concurrently: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) CountActiveByDevice(ctx context.Context, fingerprint string, now time.Time) (int, error) {
	dKey := deviceKey(fingerprint)
	ids, err := s.client.SMembers(ctx, dKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list device sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.Get(ctx, sessionKeyPrefix+sid)
	}
	// Missing keys surface as redis.Nil on their own command.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("load device sessions: %w", err)
	}

	count := 0
	var stale []any
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			continue
		}
		session, err := decode(data)
		if err != nil {
			continue
		}
		if session.IsActive && !session.IsExpired(now) {
			count++
		}
	}
	if len(stale) > 0 {
		// Best effort; a failure only leaves dangling ids for the next call.
		_ = s.client.SRem(ctx, dKey, stale...).Err()
	}
	return count, nil
}

// DeactivateExpired walks the expiry index up to now in batches.
func (s *RedisStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	count := 0
	for {
		ids, err := s.client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: sweepBatch,
		}).Result()
		if err != nil {
			return count, fmt.Errorf("scan expired sessions: %w", err)
		}
		if len(ids) == 0 {
			return count, nil
		}

		progressed := 0
		for _, sid := range ids {
			id, err := uuid.Parse(sid)
			if err != nil {
				_ = s.client.ZRem(ctx, expiryKey, sid).Err()
				progressed++
				continue
			}
			_, err = s.Execute(ctx, id,
				func(session *models.Session) error {
					if !session.IsActive {
						return errSkip
					}
					return nil
				},
				func(session *models.Session) {
					session.Deactivate(models.DeactivatedExpired, now)
				},
			)
			switch {
			case err == nil:
				count++
				progressed++
			case errors.Is(err, errSkip), errors.Is(err, sentinel.ErrNotFound):
				_ = s.client.ZRem(ctx, expiryKey, sid).Err()
				progressed++
			case errors.Is(err, sentinel.ErrConflict):
				// Picked up on the next sweep.
			default:
				return count, err
			}
		}
		if len(ids) < sweepBatch || progressed == 0 {
			return count, nil
		}
	}
}

// Purge is a no-op: key TTLs drop records once retention has passed.
func (s *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}
