package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"schooldesk/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisRefreshLedger keeps refresh records in Redis. Expiry is delegated
// to key TTLs, so deployments on this backend do not need the cleanup
// sweep. Consume and family revocation run as Lua scripts so their
// check-and-set semantics hold across backend instances.
type RedisRefreshLedger struct {
	rdb *redis.Client
}

const (
	recKeyPrefix    = "refresh:rec:"
	hashKeyPrefix   = "refresh:hash:"
	familyKeyPrefix = "refresh:family:"
	idCounterKey    = "refresh:next_id"

	// revoked records stay visible for replay detection for this long
	// past their natural expiry
	recordGrace = 24 * time.Hour
)

var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "used_at") == 1 then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "used_at", ARGV[1])
return 1
`)

var revokeFamilyScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(members) do
  local key = ARGV[3] .. id
  if redis.call("EXISTS", key) == 1 and redis.call("HEXISTS", key, "revoked_at") == 0 then
    redis.call("HSET", key, "revoked_at", ARGV[1], "revoked_reason", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`)

func NewRedisRefreshLedger(rdb *redis.Client) *RedisRefreshLedger {
	return &RedisRefreshLedger{rdb: rdb}
}

func recKey(id int64) string        { return recKeyPrefix + strconv.FormatInt(id, 10) }
func hashKey(hash string) string    { return hashKeyPrefix + hash }
func familyKey(family string) string { return familyKeyPrefix + family }

func (l *RedisRefreshLedger) Create(ctx context.Context, rec *domain.RefreshRecord) error {
	id, err := l.rdb.Incr(ctx, idCounterKey).Result()
	if err != nil {
		return err
	}
	rec.ID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	ttl := time.Until(rec.ExpiresAt) + recordGrace
	if ttl <= 0 {
		return fmt.Errorf("refresh record already expired at creation")
	}

	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, recKey(id), map[string]any{
		"user_id":    rec.UserID,
		"token_hash": rec.TokenHash,
		"jti":        rec.JTI,
		"family_id":  rec.FamilyID,
		"created_at": rec.CreatedAt.Unix(),
		"expires_at": rec.ExpiresAt.Unix(),
	})
	pipe.Expire(ctx, recKey(id), ttl)
	pipe.Set(ctx, hashKey(rec.TokenHash), id, ttl)
	pipe.SAdd(ctx, familyKey(rec.FamilyID), id)
	pipe.Expire(ctx, familyKey(rec.FamilyID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (l *RedisRefreshLedger) GetByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error) {
	idStr, err := l.rdb.Get(ctx, hashKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt hash index entry %q: %w", idStr, err)
	}

	fields, err := l.rdb.HGetAll(ctx, recKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}

	return parseRecord(id, fields)
}

func (l *RedisRefreshLedger) ConsumeIfUnused(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := consumeScript.Run(ctx, l.rdb, []string{recKey(id)}, now.Unix()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *RedisRefreshLedger) LinkRotation(ctx context.Context, fromID, toID int64) error {
	return l.rdb.HSet(ctx, recKey(fromID), "rotated_to", toID).Err()
}

func (l *RedisRefreshLedger) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) error {
	return revokeFamilyScript.Run(ctx, l.rdb,
		[]string{familyKey(familyID)},
		now.Unix(), reason, recKeyPrefix,
	).Err()
}

func (l *RedisRefreshLedger) Revoke(ctx context.Context, id int64, reason string, now time.Time) error {
	exists, err := l.rdb.Exists(ctx, recKey(id)).Result()
	if err != nil || exists == 0 {
		return err
	}
	return l.rdb.HSet(ctx, recKey(id), "revoked_at", now.Unix(), "revoked_reason", reason).Err()
}

func (l *RedisRefreshLedger) RevokeByUser(ctx context.Context, userID int64, reason string, now time.Time) error {
	// records are not indexed by user in this backend; walk the record
	// keyspace, which stays small because every key carries a TTL
	iter := l.rdb.Scan(ctx, 0, recKeyPrefix+"*", 0).Iterator()
	want := strconv.FormatInt(userID, 10)
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := l.rdb.HGet(ctx, key, "user_id").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		if owner != want {
			continue
		}
		if err := l.rdb.HSet(ctx, key, "revoked_at", now.Unix(), "revoked_reason", reason).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func parseRecord(id int64, fields map[string]string) (*domain.RefreshRecord, error) {
	rec := &domain.RefreshRecord{
		ID:            id,
		TokenHash:     fields["token_hash"],
		JTI:           fields["jti"],
		FamilyID:      fields["family_id"],
		RevokedReason: fields["revoked_reason"],
	}

	var err error
	rec.UserID, err = strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %d: %w", id, err)
	}

	if v, ok := fields["created_at"]; ok {
		rec.CreatedAt = unixField(v)
	}
	if v, ok := fields["expires_at"]; ok {
		rec.ExpiresAt = unixField(v)
	}
	if v, ok := fields["used_at"]; ok {
		ts := unixField(v)
		rec.UsedAt = &ts
	}
	if v, ok := fields["revoked_at"]; ok {
		ts := unixField(v)
		rec.RevokedAt = &ts
	}
	if v, ok := fields["rotated_to"]; ok {
		to, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			rec.RotatedTo = &to
		}
	}

	return rec, nil
}

func unixField(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
