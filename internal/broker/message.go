package broker

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Поля записи в стриме. Порядок записи фиксированный:
// action, data, затем опционально group и channel (только у rejected-записей).
const (
	fieldAction  = "action"
	fieldData    = "data"
	fieldGroup   = "group"
	fieldChannel = "channel"
)

// RejectedStream — выделенный стрим для сообщений, исчерпавших лимит повторов.
// Отдельное имя, чтобы не пересекаться с пользовательскими каналами.
const RejectedStream = "broker:rejected"

// Message — единица работы: то, что получает пользовательский callback
// и что хранится в rejected-стриме.
type Message struct {
	// ID назначается стором, монотонно растёт; старшая часть — epoch millis.
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Action  string    `json:"action"`
	Data    any       `json:"data"`
	Group   string    `json:"group,omitempty"`
	Date    time.Time `json:"date"`
}

// parseMessage собирает Message из сырой записи стрима.
// data — JSON; если распарсить не удалось, оставляем сырую строку.
// Поле channel (есть только у rejected-записей) перекрывает имя стрима.
func parseMessage(channel string, entry redis.XMessage) *Message {
	msg := &Message{
		ID:      entry.ID,
		Channel: channel,
		Date:    idTime(entry.ID),
	}

	if v, ok := entry.Values[fieldAction].(string); ok {
		msg.Action = v
	}
	if v, ok := entry.Values[fieldGroup].(string); ok {
		msg.Group = v
	}
	if v, ok := entry.Values[fieldChannel].(string); ok && v != "" {
		msg.Channel = v
	}

	if raw, ok := entry.Values[fieldData].(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			msg.Data = decoded
		} else {
			msg.Data = raw
		}
	}

	return msg
}

// marshalData сериализует payload перед записью в стор.
func marshalData(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// entryValues — поля записи для XADD; group/channel добавляются только когда заданы.
func entryValues(action, data, group, channel string) map[string]any {
	values := map[string]any{
		fieldAction: action,
		fieldData:   data,
	}
	if group != "" {
		values[fieldGroup] = group
	}
	if channel != "" {
		values[fieldChannel] = channel
	}
	return values
}

// idTime достаёт wall-clock метку из старшей части ID вида "<millis>-<seq>".
func idTime(id string) time.Time {
	msPart, _, _ := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
