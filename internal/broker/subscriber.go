package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"stream_broker/internal/metrics"
)

// Handler — пользовательский callback обработки одного сообщения.
// Ошибка (или паника) оставляет сообщение pending: оно будет переиграно
// через reclaim после ack-таймаута.
type Handler func(ctx context.Context, msg *Message) error

// ErrorHandler — единственный канал для message-уровневых ошибок движка.
// channel и msg могут быть пустыми для ошибок цикла, не привязанных
// к конкретному сообщению. Callback не должен паниковать.
type ErrorHandler func(err error, channel string, msg *Message)

const (
	// DefaultAckTimeout — простой, после которого доставленное,
	// но не подтверждённое сообщение можно забирать себе.
	DefaultAckTimeout = 10 * time.Second
	DefaultBatchSize  = 1
	DefaultRetries    = 3
	// DefaultDrain — пауза перед удалением consumer-а из группы:
	// его свежие pending-записи должны успеть отвисеться и переехать.
	DefaultDrain = 60 * time.Second

	// continuous-режим ждёт на сторе подолгу (обычно сообщений нет),
	// interval-режим — почти не ждёт (сообщение скорее всего уже лежит)
	continuousBlock = 5 * time.Second
	intervalBlock   = time.Millisecond

	// страница pending-свипа
	pendingPageSize = 20
)

type SubscriberConfig struct {
	Channels []string
	Group    string
	// Consumer — идентичность в группе; пустая — {group}:sub:{millis}.
	Consumer string
	// AckTimeout <= 0 — значение по умолчанию (10s).
	AckTimeout time.Duration
	// PollInterval == 0 — непрерывный цикл; > 0 — периодический таймер.
	PollInterval time.Duration
	// BatchSize — записей на канал за одно чтение.
	BatchSize int64
	// Retries — сколько раз pending-сообщение переигрывается через reclaim,
	// прежде чем уехать в rejected-стрим. Отрицательное — по умолчанию (3).
	Retries int64
	Handler Handler
	// OnError nil — ошибки только логируются.
	OnError ErrorHandler
	Logger  *log.Logger
}

// Subscriber — движок доставки: цикл чтение/диспетчеризация/ack/reclaim/reject
// для одной группы по набору каналов.
type Subscriber struct {
	store Store

	channels     []string
	group        string
	consumer     string
	ackTimeout   time.Duration
	pollInterval time.Duration
	batch        int64
	retries      int64
	handler      Handler
	onError      ErrorHandler
	logger       *log.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	// в полёте: callbacks текущих батчей; новый цикл их не ждёт
	inflight sync.WaitGroup
}

// NewSubscriber валидирует конфигурацию и идемпотентно создаёт группу
// на каждом канале с началом от нулевой позиции истории.
func NewSubscriber(ctx context.Context, st Store, cfg SubscriberConfig) (*Subscriber, error) {
	if st == nil {
		return nil, connectionError(errors.New("store is not connected"))
	}

	channels := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, configErrorf("at least one channel is required")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, configErrorf("group is required")
	}
	if cfg.Handler == nil {
		return nil, configErrorf("handler is required")
	}

	s := &Subscriber{
		store:        st,
		channels:     channels,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		ackTimeout:   cfg.AckTimeout,
		pollInterval: cfg.PollInterval,
		batch:        cfg.BatchSize,
		retries:      cfg.Retries,
		handler:      cfg.Handler,
		onError:      cfg.OnError,
		logger:       cfg.Logger,
		stop:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	if s.consumer == "" {
		s.consumer = fmt.Sprintf("%s:sub:%d", s.group, time.Now().UnixMilli())
	}
	if s.ackTimeout <= 0 {
		s.ackTimeout = DefaultAckTimeout
	}
	if s.pollInterval < 0 {
		s.pollInterval = 0
	}
	if s.batch <= 0 {
		s.batch = DefaultBatchSize
	}
	if s.retries < 0 {
		s.retries = DefaultRetries
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.onError == nil {
		s.onError = func(err error, channel string, _ *Message) {
			s.logger.Printf("delivery error channel=%s: %v", channel, err)
		}
	}

	for _, ch := range s.channels {
		if err := st.CreateGroup(ctx, ch, s.group, "0"); err != nil {
			return nil, connectionError(fmt.Errorf("create group %q on %q: %w", s.group, ch, err))
		}
	}

	return s, nil
}

// Consumer возвращает идентичность этого участника группы.
func (s *Subscriber) Consumer() string { return s.consumer }

// Start запускает цикл доставки в фоне. Повторный вызов — no-op.
func (s *Subscriber) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.loopDone)

	s.logger.Printf("subscriber started group=%s consumer=%s channels=%s",
		s.group, s.consumer, strings.Join(s.channels, ","))
	defer s.logger.Printf("subscriber stopped group=%s consumer=%s", s.group, s.consumer)

	if s.pollInterval > 0 {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.cycle(ctx, intervalBlock)
			}
		}
	}

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}
		s.cycle(ctx, continuousBlock)
	}
}

// cycle — один полный проход: чтение новых сообщений плюс pending-свип.
func (s *Subscriber) cycle(ctx context.Context, block time.Duration) {
	s.readNew(ctx, block)
	s.sweepPending(ctx)
}

func (s *Subscriber) readNew(ctx context.Context, block time.Duration) {
	streams, err := s.store.ReadGroup(ctx, s.group, s.consumer, s.channels, s.batch, block)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.onError(connectionError(fmt.Errorf("read group: %w", err)), "", nil)
		return
	}

	for _, stream := range streams {
		channel := stream.Stream

		receive := make([]*Message, 0, len(stream.Messages))
		var skip []string
		for _, entry := range stream.Messages {
			msg := parseMessage(channel, entry)
			// сообщение чужой группы пропускаем через ack,
			// иначе оно навсегда заблокирует курсор нашей группы
			if msg.Group != "" && msg.Group != s.group {
				skip = append(skip, msg.ID)
				continue
			}
			receive = append(receive, msg)
		}

		if len(skip) > 0 {
			if err := s.store.Ack(ctx, channel, s.group, skip...); err != nil {
				s.onError(connectionError(fmt.Errorf("ack skipped: %w", err)), channel, nil)
			} else {
				for _, id := range skip {
					metrics.IncSkipped(channel)
					s.logger.Printf("message skipped channel=%s id=%s", channel, id)
				}
			}
		}

		s.dispatch(ctx, channel, receive)
	}
}

// dispatch запускает обработку батча: по горутине на сообщение.
// Ошибка одного сообщения не трогает соседей и не останавливает цикл.
func (s *Subscriber) dispatch(ctx context.Context, channel string, msgs []*Message) {
	for _, msg := range msgs {
		s.inflight.Add(1)
		go func(m *Message) {
			defer s.inflight.Done()
			s.process(ctx, channel, m)
		}(msg)
	}
}

func (s *Subscriber) process(ctx context.Context, channel string, msg *Message) {
	metrics.IncReceived(channel)
	s.logger.Printf("message received channel=%s id=%s action=%s", channel, msg.ID, msg.Action)

	start := time.Now()
	err := s.invokeHandler(ctx, msg)
	metrics.ObserveProcessing(channel, time.Since(start))

	if err != nil {
		// не подтверждаем: сообщение остаётся pending и после ack-таймаута
		// станет доступно для reclaim
		s.onError(&Error{Kind: KindProcessing, Channel: channel, Msg: msg, Err: err}, channel, msg)
		return
	}

	if err := s.store.Ack(ctx, channel, s.group, msg.ID); err != nil {
		s.onError(connectionError(fmt.Errorf("ack %s: %w", msg.ID, err)), channel, msg)
		return
	}

	metrics.IncConfirmed(channel)
	s.logger.Printf("message confirmed channel=%s id=%s", channel, msg.ID)
}

func (s *Subscriber) invokeHandler(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, msg)
}

// sweepPending постранично обходит записи, простаивающие дольше ack-таймаута.
// Счётчик доставок решает судьбу: в пределах лимита — reclaim и повтор,
// сверх лимита — rejected-стрим.
func (s *Subscriber) sweepPending(ctx context.Context) {
	for _, channel := range s.channels {
		// курсор строго растёт: страница, не ушедшая из PEL (ошибка claim,
		// недоступный rejected-стрим), не читается повторно в этом же свипе,
		// а переигрывается на следующем цикле
		start := "-"
		for {
			entries, err := s.store.Pending(ctx, channel, s.group, s.ackTimeout, start, "+", pendingPageSize)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				s.onError(connectionError(fmt.Errorf("pending query: %w", err)), channel, nil)
				break
			}
			if len(entries) == 0 {
				break
			}

			var claim []string
			var reject []redis.XPendingExt
			for _, pe := range entries {
				if pe.RetryCount > s.retries {
					reject = append(reject, pe)
				} else {
					claim = append(claim, pe.ID)
				}
			}

			s.reclaim(ctx, channel, claim)
			for _, pe := range reject {
				s.rejectMessage(ctx, channel, pe)
			}

			if len(entries) < pendingPageSize {
				break
			}
			start = "(" + entries[len(entries)-1].ID
		}
	}
}

func (s *Subscriber) reclaim(ctx context.Context, channel string, ids []string) {
	if len(ids) == 0 {
		return
	}

	claimed, err := s.store.Claim(ctx, channel, s.group, s.consumer, s.ackTimeout, ids)
	if err != nil {
		s.onError(connectionError(fmt.Errorf("claim: %w", err)), channel, nil)
		return
	}

	msgs := make([]*Message, 0, len(claimed))
	for _, entry := range claimed {
		// тело могло уехать по TRIM или запись уже переназначена — пропускаем
		if len(entry.Values) == 0 {
			continue
		}
		msgs = append(msgs, parseMessage(channel, entry))
	}

	s.dispatch(ctx, channel, msgs)
}

// rejectMessage навсегда снимает сообщение с канала: запись в rejected-стрим
// с origin group/channel, затем ack. Порядок именно такой: при падении между
// шагами получим дубликат в rejected вместо тихой потери.
func (s *Subscriber) rejectMessage(ctx context.Context, channel string, pe redis.XPendingExt) {
	var msg *Message
	if entries, err := s.store.Range(ctx, channel, pe.ID, pe.ID); err == nil && len(entries) > 0 {
		msg = parseMessage(channel, entries[0])
	}

	if msg != nil {
		raw, err := marshalData(msg.Data)
		if err != nil {
			raw = fmt.Sprintf("%v", msg.Data)
		}
		values := entryValues(msg.Action, raw, s.group, channel)
		if _, err := s.store.Append(ctx, RejectedStream, 0, values); err != nil {
			// не подтверждаем — попробуем отвергнуть на следующем свипе
			s.onError(connectionError(fmt.Errorf("append rejected: %w", err)), channel, msg)
			return
		}
	}

	if err := s.store.Ack(ctx, channel, s.group, pe.ID); err != nil {
		s.onError(connectionError(fmt.Errorf("ack rejected %s: %w", pe.ID, err)), channel, msg)
		return
	}

	metrics.IncRejected(channel)
	s.logger.Printf("message rejected channel=%s id=%s deliveries=%d", channel, pe.ID, pe.RetryCount)

	s.onError(&Error{
		Kind:    KindMaxRetries,
		Channel: channel,
		Msg:     msg,
		Err:     fmt.Errorf("message %s exceeded %d retries", pe.ID, s.retries),
	}, channel, msg)
}

// UnsubscribeResult — что вернул останов: обслуженные каналы и маркер успеха.
type UnsubscribeResult struct {
	Channels []string `json:"channels"`
	Result   string   `json:"result"`
}

// Unsubscribe останавливает цикл и после паузы drain удаляет регистрацию
// consumer-а из группы на каждом канале. Пауза нужна, потому что удаление
// consumer-а НЕ переназначает его pending-записи: свежезахваченные сообщения
// должны успеть простоять ack-таймаут и быть переигранными. drain < 0 —
// значение по умолчанию (60s). Ожидание жёсткое, не прерывается.
func (s *Subscriber) Unsubscribe(ctx context.Context, drain time.Duration) (*UnsubscribeResult, error) {
	if drain < 0 {
		drain = DefaultDrain
	}

	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })

	time.Sleep(drain)

	for _, ch := range s.channels {
		if err := s.store.DeleteConsumer(ctx, ch, s.group, s.consumer); err != nil {
			return nil, connectionError(fmt.Errorf("delete consumer on %q: %w", ch, err))
		}
	}

	return &UnsubscribeResult{Channels: s.channels, Result: "OK"}, nil
}
