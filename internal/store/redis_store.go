package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"stream_broker/internal/broker"
	"stream_broker/internal/metrics"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore реализует broker.Store поверх Redis Streams.
type RedisStore struct {
	c *redis.Client
}

var _ broker.Store = (*RedisStore)(nil)

func Connect(addr, password string, db int) *RedisStore {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewWithClient оборачивает уже созданный клиент (cluster/sentinel и т.п. —
// забота вызывающего).
func NewWithClient(c *redis.Client) *RedisStore {
	return &RedisStore{c: c}
}

func (s *RedisStore) Close() error { return s.c.Close() }

// operation label для метрик
const (
	opAppend   = "append"
	opGroup    = "group"
	opConsumer = "consumer"
	opRead     = "read"
	opPending  = "pending"
	opClaim    = "claim"
	opAck      = "ack"
	opDel      = "del"
	opRange    = "range"
	opLen      = "len"
	opPing     = "ping"
)

// WaitReady пингует стор до готовности или до истечения бюджета.
func (s *RedisStore) WaitReady(ctx context.Context, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := s.c.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return &broker.Error{
				Kind: broker.KindTimeout,
				Err:  fmt.Errorf("store not ready within %s: %w", budget, err),
			}
		}
		select {
		case <-ctx.Done():
			return &broker.Error{Kind: broker.KindTimeout, Err: ctx.Err()}
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *RedisStore) Ready(ctx context.Context) error {
	start := time.Now()
	metrics.IncStoreRequest(opPing)
	defer metrics.ObserveStoreDuration(opPing, time.Since(start))

	if err := s.c.Ping(ctx).Err(); err != nil {
		metrics.IncStoreError(opPing)
		return err
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	start := time.Now()
	metrics.IncStoreRequest(opAppend)
	defer metrics.ObserveStoreDuration(opAppend, time.Since(start))

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}
	if maxLen > 0 {
		// ~ MAXLEN: точный счётчик не гарантируется, зато дёшево
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := s.c.XAdd(ctx, args).Result()
	if err != nil {
		metrics.IncStoreError(opAppend)
		return "", err
	}
	return id, nil
}

func (s *RedisStore) CreateGroup(ctx context.Context, stream, group, start string) error {
	t := time.Now()
	metrics.IncStoreRequest(opGroup)
	defer metrics.ObserveStoreDuration(opGroup, time.Since(t))

	err := s.c.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !isBusyGroup(err) {
		metrics.IncStoreError(opGroup)
		return err
	}
	return nil
}

func (s *RedisStore) DeleteConsumer(ctx context.Context, stream, group, consumer string) error {
	t := time.Now()
	metrics.IncStoreRequest(opConsumer)
	defer metrics.ObserveStoreDuration(opConsumer, time.Since(t))

	if err := s.c.XGroupDelConsumer(ctx, stream, group, consumer).Err(); err != nil {
		metrics.IncStoreError(opConsumer)
		return err
	}
	return nil
}

func (s *RedisStore) ReadGroup(ctx context.Context, group, consumer string, channels []string, count int64, block time.Duration) ([]redis.XStream, error) {
	t := time.Now()
	metrics.IncStoreRequest(opRead)
	defer metrics.ObserveStoreDuration(opRead, time.Since(t))

	// маркер ">" на каждый канал: только записи, не доставлявшиеся группе
	streams := make([]string, 0, len(channels)*2)
	streams = append(streams, channels...)
	for range channels {
		streams = append(streams, ">")
	}

	res, err := s.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// блокировка истекла, новых записей нет
			return nil, nil
		}
		metrics.IncStoreError(opRead)
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Pending(ctx context.Context, stream, group string, minIdle time.Duration, start, end string, count int64) ([]redis.XPendingExt, error) {
	t := time.Now()
	metrics.IncStoreRequest(opPending)
	defer metrics.ObserveStoreDuration(opPending, time.Since(t))

	res, err := s.c.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		metrics.IncStoreError(opPending)
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	t := time.Now()
	metrics.IncStoreRequest(opClaim)
	defer metrics.ObserveStoreDuration(opClaim, time.Since(t))

	res, err := s.c.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		metrics.IncStoreError(opClaim)
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	t := time.Now()
	metrics.IncStoreRequest(opAck)
	defer metrics.ObserveStoreDuration(opAck, time.Since(t))

	if err := s.c.XAck(ctx, stream, group, ids...).Err(); err != nil {
		metrics.IncStoreError(opAck)
		return err
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	t := time.Now()
	metrics.IncStoreRequest(opDel)
	defer metrics.ObserveStoreDuration(opDel, time.Since(t))

	if err := s.c.XDel(ctx, stream, ids...).Err(); err != nil {
		metrics.IncStoreError(opDel)
		return err
	}
	return nil
}

func (s *RedisStore) Range(ctx context.Context, stream, start, end string) ([]redis.XMessage, error) {
	t := time.Now()
	metrics.IncStoreRequest(opRange)
	defer metrics.ObserveStoreDuration(opRange, time.Since(t))

	res, err := s.c.XRange(ctx, stream, start, end).Result()
	if err != nil {
		metrics.IncStoreError(opRange)
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Len(ctx context.Context, stream string) (int64, error) {
	t := time.Now()
	metrics.IncStoreRequest(opLen)
	defer metrics.ObserveStoreDuration(opLen, time.Since(t))

	n, err := s.c.XLen(ctx, stream).Result()
	if err != nil {
		metrics.IncStoreError(opLen)
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) PendingTotal(ctx context.Context, stream, group string) (int64, error) {
	t := time.Now()
	metrics.IncStoreRequest(opPending)
	defer metrics.ObserveStoreDuration(opPending, time.Since(t))

	res, err := s.c.XPending(ctx, stream, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		metrics.IncStoreError(opPending)
		return 0, err
	}
	return res.Count, nil
}

// isBusyGroup: повторное создание группы — не ошибка.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
