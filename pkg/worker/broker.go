// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conda-store/conda-store-server/pkg/store"
)

const (
	queueKey     = "conda-store:tasks"
	activePrefix = "conda-store:active:"

	dequeueBlock = 5 * time.Second

	// activeTaskTTL bounds how long a task stays in the live inventory
	// without a heartbeat. A worker killed hard never reaches
	// TaskFinished, so its entries must expire for the reaper to reclaim
	// the builds it was holding.
	activeTaskTTL = 90 * time.Second
)

// RedisBroker implements store.Broker on a redis list (the queue) and
// per-task keys with a TTL (the live-task inventory).
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to redis at addr.
func NewRedisBroker(addr, password string, db int) *RedisBroker {
	return &RedisBroker{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisBrokerFromClient wraps an existing client; tests hand in a
// miniredis-backed one.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Close releases the underlying connection pool.
func (b *RedisBroker) Close() error { return b.client.Close() }

// Enqueue implements store.Broker.
func (b *RedisBroker) Enqueue(ctx context.Context, task store.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, queueKey, raw).Err()
}

// Dequeue implements store.Broker, blocking in short intervals so context
// cancellation is observed.
func (b *RedisBroker) Dequeue(ctx context.Context) (*store.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.client.BRPop(ctx, dequeueBlock, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		// BRPop returns [key, value].
		var task store.Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return nil, fmt.Errorf("malformed task payload: %w", err)
		}
		return &task, nil
	}
}

// TaskStarted implements store.Broker. Calling it again for a running
// task refreshes the entry's TTL; workers do so as a heartbeat.
func (b *RedisBroker) TaskStarted(ctx context.Context, task store.Task, workerName string) error {
	return b.client.Set(ctx, activePrefix+task.ID, workerName, activeTaskTTL).Err()
}

// TaskFinished implements store.Broker.
func (b *RedisBroker) TaskFinished(ctx context.Context, task store.Task) error {
	return b.client.Del(ctx, activePrefix+task.ID).Err()
}

// ActiveTasks implements store.Broker, returning unexpired task ids
// grouped by the worker that claimed them. Entries of dead workers age
// out of the inventory, so absence here means the task is not live.
func (b *RedisBroker) ActiveTasks(ctx context.Context) (map[string][]string, error) {
	active := map[string][]string{}
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, activePrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("inspecting active tasks: %w", err)
		}
		for _, key := range keys {
			workerName, err := b.client.Get(ctx, key).Result()
			if err == redis.Nil {
				// Expired between scan and read.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("inspecting active tasks: %w", err)
			}
			active[workerName] = append(active[workerName], strings.TrimPrefix(key, activePrefix))
		}
		cursor = next
		if cursor == 0 {
			return active, nil
		}
	}
}

// QueueLength implements store.Broker.
func (b *RedisBroker) QueueLength(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, queueKey).Result()
}
