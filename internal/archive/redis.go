// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
)

const (
	// DefaultStream is the stream job records are appended to.
	DefaultStream = "rigrun:dispatch:records"

	// DefaultStreamMaxLen bounds the stream length.
	DefaultStreamMaxLen = 10000
)

// RedisConfig configures a RedisPublisher.
type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr string

	// Stream defaults to DefaultStream.
	Stream string

	// MaxLen trims the stream on every XADD. Zero uses DefaultStreamMaxLen.
	MaxLen int64

	// DialTimeout bounds the connectivity check in NewRedisPublisher.
	DialTimeout time.Duration
}

// RedisPublisher appends job records to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to Redis and verifies it is reachable.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	opts, err := redisOptions(cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultStreamMaxLen
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisPublisher{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// Stream returns the stream name.
func (p *RedisPublisher) Stream() string {
	return p.stream
}

// Write appends r to the stream. The full record is carried as JSON in the
// "record" field; a few fields are duplicated for consumers that filter.
func (p *RedisPublisher) Write(ctx context.Context, r joblog.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", r.ID, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{
			"id":       r.ID,
			"job_id":   r.JobID,
			"backend":  r.BackendKey(),
			"category": string(r.Category),
			"success":  strconv.FormatBool(r.Success),
			"record":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
