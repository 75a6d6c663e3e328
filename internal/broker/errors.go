package broker

import (
	"errors"
	"fmt"
)

// Kind — символьный код ошибки, по нему диспетчеризуются обработчики
// (вместо разбора текста сообщения).
type Kind string

const (
	KindConfig     Kind = "CONFIG_ERROR"
	KindConnection Kind = "CONNECTION_ERROR"
	KindTimeout    Kind = "TIMEOUT"
	KindProcessing Kind = "PROCESSING_ERROR"
	KindMaxRetries Kind = "MAX_RETRIES_EXCEEDED"
	KindReprocess  Kind = "REPROCESS_ERROR"
)

// Error несёт kind плюс структурный контекст (канал, сообщение),
// чтобы error callback не парсил строки.
type Error struct {
	Kind    Kind
	Channel string
	Msg     *Message
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind сравнивает kind через цепочку обёрток.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

func connectionError(err error) *Error {
	return &Error{Kind: KindConnection, Err: err}
}
