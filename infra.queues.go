package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityQueue is the queue id carrying history entries to the archive.
const ActivityQueue = "plib:activity"

var ErrQueueFull = errors.New("queue: buffer is full")

// Ensure queues implement Queuer.
var (
	_ Queuer = (*redisQueue)(nil)
	_ Queuer = (*memoryQueue)(nil)
)

// Queuer describes a queue of history entries.
type Queuer interface {
	Push(ctx context.Context, qid string, entry HistoryEntry) error
	Pop(ctx context.Context, qids ...string) (string, HistoryEntry, error)
}

// redisQueue represents a queue backed by redis lists.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// Push enqueues an entry onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, entry HistoryEntry) error {
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, qid, entryBytes).Err()
}

// Pop returns the first dequeued entry from the list of queue ids.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, HistoryEntry, error) {
	var entry HistoryEntry
	var qid string
	infos, err := q.client.BLPop(ctx, 0*time.Second, qids...).Result()
	if err != nil {
		return qid, entry, err
	}

	if err = json.Unmarshal([]byte(infos[1]), &entry); err != nil {
		return qid, entry, err
	}
	qid = infos[0]
	return qid, entry, nil
}

type queuedEntry struct {
	qid   string
	entry HistoryEntry
}

// memoryQueue is an in-process buffered queue. Push never blocks: a full
// buffer drops the entry with ErrQueueFull. All queue ids share the buffer.
type memoryQueue struct {
	ch chan queuedEntry
}

func NewMemoryQueue(size int) Queuer {
	return &memoryQueue{ch: make(chan queuedEntry, size)}
}

func (q *memoryQueue) Push(ctx context.Context, qid string, entry HistoryEntry) error {
	select {
	case q.ch <- queuedEntry{qid, entry}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *memoryQueue) Pop(ctx context.Context, _ ...string) (string, HistoryEntry, error) {
	select {
	case qe := <-q.ch:
		return qe.qid, qe.entry, nil
	case <-ctx.Done():
		return "", HistoryEntry{}, ctx.Err()
	}
}
