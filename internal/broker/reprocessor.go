package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"stream_broker/internal/metrics"
)

// Filter выбирает rejected-записи: по явному списку ID, по диапазону времени
// записи (включительно) или все подряд. Action дополнительно сужает выборку
// точным совпадением поверх основного фильтра.
type Filter struct {
	IDs    []string   `json:"ids,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Action string     `json:"action,omitempty"`
}

// Override — переопределения для одной записи при повторной отправке.
// Data шалоу-мёржится в исходный payload, override выигрывает по ключам.
type Override struct {
	Channel string         `json:"channel,omitempty"`
	Group   string         `json:"group,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type ReadResult struct {
	Messages []*Message `json:"messages"`
	Count    int        `json:"count"`
}

type ReprocessFailure struct {
	Message *Message `json:"message"`
	Error   string   `json:"error"`
}

type ReprocessResult struct {
	Succeeded []*Message         `json:"succeeded"`
	Failed    []ReprocessFailure `json:"failed"`
}

// Reprocessor читает и переигрывает сообщения из rejected-стрима.
type Reprocessor struct {
	store  Store
	maxLen int64
	logger *log.Logger
}

func NewReprocessor(st Store, maxLen int64, logger *log.Logger) (*Reprocessor, error) {
	if st == nil {
		return nil, connectionError(errors.New("store is not connected"))
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reprocessor{store: st, maxLen: maxLen, logger: logger}, nil
}

// Read возвращает rejected-записи по фильтру.
func (r *Reprocessor) Read(ctx context.Context, f Filter) (*ReadResult, error) {
	var entries []redis.XMessage

	switch {
	case len(f.IDs) > 0:
		for _, id := range f.IDs {
			found, err := r.store.Range(ctx, RejectedStream, id, id)
			if err != nil {
				return nil, connectionError(fmt.Errorf("range %s: %w", id, err))
			}
			entries = append(entries, found...)
		}
	case f.From != nil || f.To != nil:
		// неполный ID "<millis>" покрывает всю миллисекунду с обеих сторон
		start, end := "-", "+"
		if f.From != nil {
			start = strconv.FormatInt(f.From.UnixMilli(), 10)
		}
		if f.To != nil {
			end = strconv.FormatInt(f.To.UnixMilli(), 10)
		}
		found, err := r.store.Range(ctx, RejectedStream, start, end)
		if err != nil {
			return nil, connectionError(fmt.Errorf("range %s..%s: %w", start, end, err))
		}
		entries = found
	default:
		found, err := r.store.Range(ctx, RejectedStream, "-", "+")
		if err != nil {
			return nil, connectionError(fmt.Errorf("range all: %w", err))
		}
		entries = found
	}

	msgs := make([]*Message, 0, len(entries))
	for _, entry := range entries {
		msg := parseMessage(RejectedStream, entry)
		if f.Action != "" && msg.Action != f.Action {
			continue
		}
		msgs = append(msgs, msg)
	}

	return &ReadResult{Messages: msgs, Count: len(msgs)}, nil
}

// Reprocess переигрывает подходящие записи в их исходный (или переопределённый)
// канал и удаляет их из rejected-стрима. Записи независимы: ошибка стора на
// одной попадает в Failed и не останавливает остальные.
func (r *Reprocessor) Reprocess(ctx context.Context, f Filter, overrides map[string]Override) (*ReprocessResult, error) {
	read, err := r.Read(ctx, f)
	if err != nil {
		return nil, err
	}

	res := &ReprocessResult{
		Succeeded: make([]*Message, 0, len(read.Messages)),
	}

	for _, msg := range read.Messages {
		channel := msg.Channel
		group := msg.Group
		data := msg.Data

		if ov, ok := overrides[msg.ID]; ok {
			if ov.Channel != "" {
				channel = ov.Channel
			}
			if ov.Group != "" {
				group = ov.Group
			}
			if len(ov.Data) > 0 {
				data = mergeData(data, ov.Data)
			}
		}

		if channel == "" || channel == RejectedStream {
			res.Failed = append(res.Failed, ReprocessFailure{
				Message: msg,
				Error:   "record has no origin channel",
			})
			continue
		}

		raw, err := marshalData(data)
		if err != nil {
			res.Failed = append(res.Failed, reprocessFailure(msg, err))
			continue
		}

		newID, err := r.store.Append(ctx, channel, r.maxLen, entryValues(msg.Action, raw, group, ""))
		if err != nil {
			res.Failed = append(res.Failed, reprocessFailure(msg, err))
			continue
		}

		if err := r.store.Del(ctx, RejectedStream, msg.ID); err != nil {
			res.Failed = append(res.Failed, reprocessFailure(msg, err))
			continue
		}

		metrics.IncReprocessed(channel)
		r.logger.Printf("message reprocessed id=%s channel=%s new_id=%s", msg.ID, channel, newID)
		res.Succeeded = append(res.Succeeded, msg)
	}

	return res, nil
}

func reprocessFailure(msg *Message, err error) ReprocessFailure {
	we := &Error{Kind: KindReprocess, Channel: msg.Channel, Msg: msg, Err: err}
	return ReprocessFailure{Message: msg, Error: we.Error()}
}

// mergeData — шалоу-мёрж: ключи override поверх исходного объекта.
// Если исходный payload не объект, остаётся только override.
func mergeData(orig any, override map[string]any) any {
	base, ok := orig.(map[string]any)
	if !ok {
		return override
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
