package analytics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// recordSaleScript applies a sale to the daily rollups exactly once.
// KEYS[1] = marker key, KEYS[2] = revenue key, KEYS[3] = count key,
// KEYS[4] = transaction id set.
// ARGV[1] = amount, ARGV[2] = transaction id, ARGV[3] = ttl seconds.
var recordSaleScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], "1") == 0 then
    return 0
end
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("INCRBYFLOAT", KEYS[2], ARGV[1])
redis.call("INCR", KEYS[3])
redis.call("SADD", KEYS[4], ARGV[2])
return 1
`)

const defaultMarkerTTL = 90 * 24 * time.Hour

// RedisRecorder keeps per-day revenue, sale count and the set of recorded
// transaction ids.
type RedisRecorder struct {
	client    redis.UniversalClient
	prefix    string
	markerTTL time.Duration
}

// NewRedisRecorder creates a recorder. Keys are namespaced by prefix, which
// defaults to "pos".
func NewRedisRecorder(client redis.UniversalClient, prefix string) *RedisRecorder {
	if prefix == "" {
		prefix = "pos"
	}
	return &RedisRecorder{
		client:    client,
		prefix:    prefix,
		markerTTL: defaultMarkerTTL,
	}
}

// RecordSale implements Recorder. Recording the same Sale.ID twice is a
// no-op.
func (r *RedisRecorder) RecordSale(ctx context.Context, s Sale) error {
	day := s.Day()
	keys := []string{
		r.key("sale", s.ID),
		r.key("revenue", day),
		r.key("count", day),
		r.key("txids", day),
	}
	ttl := int64(r.markerTTL / time.Second)
	if err := recordSaleScript.Run(ctx, r.client, keys, s.Amount.String(), s.TransactionID, ttl).Err(); err != nil {
		return errors.Wrap(err, "run record script")
	}
	return nil
}

// DailyRevenue returns the net revenue and sale count recorded for day
// (YYYY-MM-DD). Missing days are zero.
func (r *RedisRecorder) DailyRevenue(ctx context.Context, day string) (decimal.Decimal, int64, error) {
	revenue, err := r.client.Get(ctx, r.key("revenue", day)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		revenue = "0"
	case err != nil:
		return decimal.Zero, 0, errors.Wrap(err, "get revenue")
	}
	amount, err := decimal.NewFromString(revenue)
	if err != nil {
		return decimal.Zero, 0, errors.Wrapf(err, "parse revenue %q", revenue)
	}

	count, err := r.client.Get(ctx, r.key("count", day)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		count = 0
	case err != nil:
		return decimal.Zero, 0, errors.Wrap(err, "get count")
	}
	return amount, count, nil
}

// RecordedIDs streams the transaction ids recorded for day to fn.
func (r *RedisRecorder) RecordedIDs(ctx context.Context, day string, fn func(id string) error) error {
	iter := r.client.SScan(ctx, r.key("txids", day), 0, "", 500).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "scan recorded ids")
	}
	return nil
}

// HasSale reports whether the sale id has been applied. Markers expire
// after the marker TTL, so older sales read as unrecorded.
func (r *RedisRecorder) HasSale(ctx context.Context, saleID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key("sale", saleID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "check sale marker")
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRecorder) key(kind, id string) string {
	return r.prefix + ":analytics:" + kind + ":" + id
}
