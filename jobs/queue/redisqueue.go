// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

const (
	pendingKey    = "conversion"
	processingKey = "conversion:processing"
	progressTTL   = time.Hour
)

// RedisQueue is the redis-backed Queue.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue connects to redis with the given URL, e.g.
// redis://localhost:6379/0.
func NewRedisQueue(url string) (*RedisQueue, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	client := redis.NewClient(options)
	if err := client.Ping().Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	return &RedisQueue{client: client}, nil
}

// NewRedisQueueFromClient wraps an existing client, used in tests.
func NewRedisQueueFromClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Publish appends the job id to the pending list.
func (q *RedisQueue) Publish(ctx context.Context, jobID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(q.client.LPush(pendingKey, jobID.String()).Err())
}

// Claim moves one id from pending to processing.
func (q *RedisQueue) Claim(ctx context.Context) (_ uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := q.client.RPopLPush(pendingKey, processingKey).Result()
	if err == redis.Nil {
		return uuid.Nil, ErrEmpty.New("no pending jobs")
	}
	if err != nil {
		return uuid.Nil, Error.Wrap(err)
	}

	jobID, err := uuid.Parse(value)
	if err != nil {
		// drop the malformed entry so it cannot wedge the queue
		_ = q.client.LRem(processingKey, 1, value).Err()
		return uuid.Nil, Error.New("malformed job id %q on queue", value)
	}
	return jobID, nil
}

// Ack removes the id from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, jobID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(q.client.LRem(processingKey, 1, jobID.String()).Err())
}

// RestorePending moves every claimed id back to pending.
func (q *RedisQueue) RestorePending(ctx context.Context) (restored int, err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		err := q.client.RPopLPush(processingKey, pendingKey).Err()
		if err == redis.Nil {
			return restored, nil
		}
		if err != nil {
			return restored, Error.Wrap(err)
		}
		restored++
	}
}

type progressRecord struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
}

// Progress stores the latest checkpoint under a per-job key with a
// short TTL. Failures are returned but callers treat them as
// best-effort.
func (q *RedisQueue) Progress(ctx context.Context, jobID uuid.UUID, step string, percent int) (err error) {
	defer mon.Task()(&ctx)(&err)

	payload, err := json.Marshal(progressRecord{Step: step, Progress: percent})
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(q.client.Set("conversion:progress:"+jobID.String(), payload, progressTTL).Err())
}

// Close releases the redis connection.
func (q *RedisQueue) Close() error {
	return Error.Wrap(q.client.Close())
}
