package broker

import (
	"context"
	"errors"
	"log"
	"strings"
	"stream_broker/internal/metrics"
)

// DefaultMaxLen — приблизительный потолок записей в канале (~ MAXLEN).
const DefaultMaxLen = 5000

// Publisher пишет типизированные сообщения (action + payload) в один канал.
type Publisher struct {
	store   Store
	channel string
	maxLen  int64
	logger  *log.Logger
}

func NewPublisher(st Store, channel string, maxLen int64, logger *log.Logger) (*Publisher, error) {
	if st == nil {
		return nil, connectionError(errors.New("store is not connected"))
	}
	if strings.TrimSpace(channel) == "" {
		return nil, configErrorf("channel is required")
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Publisher{
		store:   st,
		channel: channel,
		maxLen:  maxLen,
		logger:  logger,
	}, nil
}

// Publish сериализует data и добавляет запись в канал.
// Возвращает назначенный стором ID.
func (p *Publisher) Publish(ctx context.Context, action string, data any) (string, error) {
	if strings.TrimSpace(action) == "" {
		return "", configErrorf("action is required")
	}

	raw, err := marshalData(data)
	if err != nil {
		return "", configErrorf("marshal data: %v", err)
	}

	id, err := p.store.Append(ctx, p.channel, p.maxLen, entryValues(action, raw, "", ""))
	if err != nil {
		return "", connectionError(err)
	}

	metrics.IncPublished(p.channel)
	p.logger.Printf("message published channel=%s id=%s action=%s", p.channel, id, action)

	return id, nil
}
