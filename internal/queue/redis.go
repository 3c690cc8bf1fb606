package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "bankfeed"
	jobKeyPre  = keyPrefix + ":job:"
	deadJobTTL = 7 * 24 * time.Hour
)

// claimScript atomically promotes due delayed jobs, reclaims jobs whose lease
// expired, then pops the best waiting job and grants a lease. Runs as a
// single script so concurrent workers never double-claim.
//
// KEYS: 1=wait 2=delayed 3=active  ARGV: 1=nowMs 2=leaseExpiryMs 3=jobKeyPrefix
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 128)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	local score = redis.call('HGET', ARGV[3] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], tonumber(score), id)
	end
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, 128)
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[3], id)
	local score = redis.call('HGET', ARGV[3] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], tonumber(score), id)
	end
end
local top = redis.call('ZRANGE', KEYS[1], 0, 0)
if #top == 0 then
	return false
end
redis.call('ZREM', KEYS[1], top[1])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), top[1])
local attempts = redis.call('HINCRBY', ARGV[3] .. top[1], 'attempts', 1)
return {top[1], attempts}
`)

// RedisStore is the durable Store backend. Queue membership lives in per-queue
// sorted sets, the job body in a per-job hash, so every state transition
// survives a process restart.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func waitKey(queueName string) string {
	return keyPrefix + ":q:" + queueName + ":wait"
}

func delayedKey(queueName string) string {
	return keyPrefix + ":q:" + queueName + ":delayed"
}

func activeKey(queueName string) string {
	return keyPrefix + ":q:" + queueName + ":active"
}

func deadKey(queueName string) string {
	return keyPrefix + ":q:" + queueName + ":dead"
}

func counterKey(queueName, name string) string {
	return keyPrefix + ":q:" + queueName + ":" + name
}

func dedupKey(queueName, key string) string {
	return keyPrefix + ":q:" + queueName + ":dedup:" + key
}

func jobKey(id string) string {
	return jobKeyPre + id
}

func (s *RedisStore) Enqueue(ctx context.Context, queueName string, job Job, opts EnqueueOptions) (string, error) {
	now := time.Now().UTC()
	if opts.DedupKey != "" {
		ok, err := s.client.SetNX(ctx, dedupKey(queueName, opts.DedupKey), "1", s.opts.DedupTTL).Result()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrDuplicate
		}
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Queue = queueName
	job.Priority = opts.Priority
	job.EnqueuedAt = now
	job.NotBefore = now.Add(opts.Delay)
	job.MaxAttempts = opts.MaxAttempts
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.opts.MaxAttempts
	}

	score := orderScore(job.Priority, job.EnqueuedAt)
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "data", data, "score", score, "queue", queueName, "attempts", job.Attempts)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, waitKey(queueName), redis.Z{Score: score, Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *RedisStore) Claim(ctx context.Context, queueName, workerID string) (*Job, error) {
	now := time.Now().UTC()
	leaseExpiry := now.Add(s.opts.LeaseTimeout)
	res, err := claimScript.Run(ctx, s.client,
		[]string{waitKey(queueName), delayedKey(queueName), activeKey(queueName)},
		now.UnixMilli(), leaseExpiry.UnixMilli(), jobKeyPre,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, ErrEmpty
	}
	id, _ := arr[0].(string)
	attempts, _ := arr[1].(int64)
	if id == "" {
		return nil, ErrEmpty
	}

	job, err := s.loadJob(ctx, id)
	if err != nil {
		// Claimed an id whose body is gone; drop it from the active set
		// so it does not cycle forever.
		_ = s.client.ZRem(ctx, activeKey(queueName), id).Err()
		_ = s.client.Del(ctx, jobKey(id)).Err()
		return nil, ErrEmpty
	}

	job.Attempts = int(attempts)
	return job, nil
}

func (s *RedisStore) Complete(ctx context.Context, jobID string) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey(job.Queue), jobID)
	pipe.Del(ctx, jobKey(jobID))
	pipe.Incr(ctx, counterKey(job.Queue, "completed"))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Fail(ctx context.Context, jobID, reason string, retryIn time.Duration) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.LastError = reason
	job.NotBefore = time.Now().UTC().Add(retryIn)
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey(job.Queue), jobID)
	pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Postpone(ctx context.Context, jobID string, retryIn time.Duration) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Attempts > 0 {
		job.Attempts--
	}
	job.NotBefore = time.Now().UTC().Add(retryIn)
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), "data", data, "attempts", job.Attempts)
	pipe.ZRem(ctx, activeKey(job.Queue), jobID)
	pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Kill(ctx context.Context, jobID, reason string) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.LastError = reason
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey(job.Queue), jobID)
	pipe.ZAdd(ctx, deadKey(job.Queue), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	pipe.Expire(ctx, jobKey(jobID), deadJobTTL)
	pipe.Incr(ctx, counterKey(job.Queue, "failed"))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Stats(ctx context.Context, queueName string) (Stats, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, waitKey(queueName))
	delayed := pipe.ZCard(ctx, delayedKey(queueName))
	active := pipe.ZCard(ctx, activeKey(queueName))
	dead := pipe.ZCard(ctx, deadKey(queueName))
	completed := pipe.Get(ctx, counterKey(queueName, "completed"))
	failed := pipe.Get(ctx, counterKey(queueName, "failed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}
	completedN, _ := completed.Int64()
	failedN, _ := failed.Int64()
	return Stats{
		Queue:     queueName,
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Dead:      dead.Val(),
		Completed: completedN,
		Failed:    failedN,
	}, nil
}

func (s *RedisStore) DeadJobs(ctx context.Context, queueName string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, deadKey(queueName), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			continue // body expired, membership row is all that is left
		}
		out = append(out, *job)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// loadJob reads the job body plus the attempts hash field; the field is
// authoritative because the claim script increments it without rewriting the
// body.
func (s *RedisStore) loadJob(ctx context.Context, id string) (*Job, error) {
	vals, err := s.client.HMGet(ctx, jobKey(id), "data", "attempts").Result()
	if err != nil {
		return nil, err
	}
	data, ok := vals[0].(string)
	if !ok || data == "" {
		return nil, ErrNotFound
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if raw, ok := vals[1].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			job.Attempts = n
		}
	}
	return &job, nil
}

func (s *RedisStore) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, jobKey(job.ID), "data", data).Err()
}
