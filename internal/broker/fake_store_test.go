package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeStore — in-memory реализация Store для тестов движка.
// Pending-записи сидируются тестом напрямую; Claim и Ack убирают их,
// имитируя сброс idle и подтверждение на сторе.
type fakeStore struct {
	mu sync.Mutex

	nextSeq int64
	streams map[string][]redis.XMessage // всё, что лежит в стриме
	unread  map[string][]redis.XMessage // очередь для ReadGroup (">")
	pending map[string][]redis.XPendingExt

	groups           map[string]int
	acked            map[string][]string
	delConsumerCalls []string
	claimCalls       [][]string
	appendCalls      []appendCall

	appendErr map[string]error
	groupErr  error
	readErr   error
	claimErr  error
}

type appendCall struct {
	stream string
	maxLen int64
	values map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		streams:   make(map[string][]redis.XMessage),
		unread:    make(map[string][]redis.XMessage),
		pending:   make(map[string][]redis.XPendingExt),
		groups:    make(map[string]int),
		acked:     make(map[string][]string),
		appendErr: make(map[string]error),
	}
}

func pelKey(stream, group string) string { return stream + "/" + group }

// seed кладёт запись и в стрим, и в очередь непрочитанных.
func (f *fakeStore) seed(stream, id string, values map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := redis.XMessage{ID: id, Values: values}
	f.streams[stream] = append(f.streams[stream], entry)
	f.unread[stream] = append(f.unread[stream], entry)
}

// seedPending регистрирует pending-запись; тело должно лежать в streams.
func (f *fakeStore) seedPending(stream, group, id, consumer string, deliveries int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[pelKey(stream, group)] = append(f.pending[pelKey(stream, group)], redis.XPendingExt{
		ID:         id,
		Consumer:   consumer,
		RetryCount: deliveries,
	})
}

func (f *fakeStore) Append(_ context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.appendErr[stream]; err != nil {
		return "", err
	}

	f.nextSeq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), f.nextSeq)
	f.streams[stream] = append(f.streams[stream], redis.XMessage{ID: id, Values: values})
	f.appendCalls = append(f.appendCalls, appendCall{stream: stream, maxLen: maxLen, values: values})
	return id, nil
}

func (f *fakeStore) CreateGroup(_ context.Context, stream, group, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupErr != nil {
		return f.groupErr
	}
	f.groups[pelKey(stream, group)]++
	return nil
}

func (f *fakeStore) DeleteConsumer(_ context.Context, stream, group, consumer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delConsumerCalls = append(f.delConsumerCalls, stream+"/"+group+"/"+consumer)
	return nil
}

func (f *fakeStore) ReadGroup(_ context.Context, _, _ string, channels []string, count int64, _ time.Duration) ([]redis.XStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}

	var out []redis.XStream
	for _, ch := range channels {
		queue := f.unread[ch]
		if len(queue) == 0 {
			continue
		}
		n := int(count)
		if n <= 0 || n > len(queue) {
			n = len(queue)
		}
		out = append(out, redis.XStream{Stream: ch, Messages: queue[:n]})
		f.unread[ch] = queue[n:]
	}
	return out, nil
}

func (f *fakeStore) Pending(_ context.Context, stream, group string, _ time.Duration, start, end string, count int64) ([]redis.XPendingExt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []redis.XPendingExt
	for _, pe := range f.pending[pelKey(stream, group)] {
		if !idInRange(pe.ID, start, end) {
			continue
		}
		out = append(out, pe)
		if int64(len(out)) == count {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Claim(_ context.Context, stream, group, _ string, _ time.Duration, ids []string) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claimErr != nil {
		return nil, f.claimErr
	}

	f.claimCalls = append(f.claimCalls, ids)
	f.removePendingLocked(stream, group, ids)

	var out []redis.XMessage
	for _, id := range ids {
		for _, entry := range f.streams[stream] {
			if entry.ID == id {
				out = append(out, entry)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Ack(_ context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[pelKey(stream, group)] = append(f.acked[pelKey(stream, group)], ids...)
	f.removePendingLocked(stream, group, ids)
	return nil
}

func (f *fakeStore) Del(_ context.Context, stream string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		entries := f.streams[stream]
		for i, entry := range entries {
			if entry.ID == id {
				f.streams[stream] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeStore) Range(_ context.Context, stream, start, end string) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []redis.XMessage
	for _, entry := range f.streams[stream] {
		if idInRange(entry.ID, start, end) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) Len(_ context.Context, stream string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.streams[stream])), nil
}

func (f *fakeStore) PendingTotal(_ context.Context, stream, group string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending[pelKey(stream, group)])), nil
}

func (f *fakeStore) Ready(context.Context) error { return nil }
func (f *fakeStore) Close() error                { return nil }

func (f *fakeStore) removePendingLocked(stream, group string, ids []string) {
	key := pelKey(stream, group)
	entries := f.pending[key]
	kept := entries[:0]
	for _, pe := range entries {
		drop := false
		for _, id := range ids {
			if pe.ID == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, pe)
		}
	}
	f.pending[key] = kept
}

// снимки под мьютексом — для ассертов из теста

func (f *fakeStore) ackedIDs(stream, group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked[pelKey(stream, group)]...)
}

func (f *fakeStore) entries(stream string) []redis.XMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]redis.XMessage(nil), f.streams[stream]...)
}

func (f *fakeStore) appends() []appendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendCall(nil), f.appendCalls...)
}

func (f *fakeStore) claims() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.claimCalls...)
}

// idInRange сравнивает ID вида "<millis>-<seq>"; границы включительные,
// неполная граница "<millis>" покрывает всю миллисекунду, префикс "("
// делает нижнюю границу эксклюзивной.
func idInRange(id, start, end string) bool {
	ms, seq := splitID(id)
	if start != "-" {
		exclusive := strings.HasPrefix(start, "(")
		start = strings.TrimPrefix(start, "(")
		sms, sseq := splitID(start)
		if !strings.Contains(start, "-") {
			sseq = 0
		}
		if ms < sms || (ms == sms && seq < sseq) {
			return false
		}
		if exclusive && ms == sms && seq == sseq {
			return false
		}
	}
	if end != "+" {
		ems, eseq := splitID(end)
		if !strings.Contains(end, "-") {
			eseq = int64(^uint64(0) >> 1)
		}
		if ms > ems || (ms == ems && seq > eseq) {
			return false
		}
	}
	return true
}

func splitID(id string) (int64, int64) {
	msPart, seqPart, _ := strings.Cut(id, "-")
	ms, _ := strconv.ParseInt(msPart, 10, 64)
	seq, _ := strconv.ParseInt(seqPart, 10, 64)
	return ms, seq
}
