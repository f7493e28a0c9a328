package export

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"vidforge/internal/pkg/errors"
)

// Task is the wire form of an export submission handed off through Redis
// when encoding runs in a separate worker process.
type Task struct {
	// ID is assigned by the submitting process so status queries resolve
	// the same identity on both sides.
	ID            string  `json:"id"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Request       Request `json:"request"`
}

// RedisQueue hands export tasks between the API process and encode
// workers. The API pushes, workers block on pop.
type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push enqueues a task (LPUSH).
func (q *RedisQueue) Push(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "export.queue.push", "failed to encode task")
	}
	if err := q.rdb.LPush(ctx, q.queueName, payload).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "export.queue.push", "queue push failed")
	}
	return nil
}

// Pop blocks until a task is available (BRPOP) or the context ends.
func (q *RedisQueue) Pop(ctx context.Context) (Task, error) {
	res, err := q.rdb.BRPop(ctx, 0, q.queueName).Result()
	if err != nil {
		return Task{}, err
	}
	if len(res) < 2 {
		return Task{}, errors.Internal("malformed BRPOP reply")
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, errors.Wrap(err, "export.queue.pop", "failed to decode task")
	}
	return task, nil
}
