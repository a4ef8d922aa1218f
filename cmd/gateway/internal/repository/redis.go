package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shubham-shewale/stockpush/pkg/models"
)

const (
	keyPrefix     = "stock:"
	channelPrefix = "prices."
)

// Compile-time check to ensure RedisMirror implements TickSink
var _ TickSink = (*RedisMirror)(nil)

// RedisMirror keeps the latest tick per symbol under stock:<SYM> and publishes it on prices.<SYM>.
type RedisMirror struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisMirror(client RedisClient, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

func (r *RedisMirror) Name() string { return "redis" }

// Publish writes a whole tick in one pipeline: SET + PUBLISH per symbol.
func (r *RedisMirror) Publish(ctx context.Context, updates []models.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, u := range updates {
		payload, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode %s: %w", u.Symbol, err)
		}
		pipe.Set(ctx, keyPrefix+u.Symbol, payload, r.ttl)
		pipe.Publish(ctx, channelPrefix+u.Symbol, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// LoadPrices fetches the last mirrored price for each symbol (MGET). Symbols with no entry are left out.
func (r *RedisMirror) LoadPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var u models.StockUpdate
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			continue
		}
		out[symbols[i]] = u.Price
	}
	return out, nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
