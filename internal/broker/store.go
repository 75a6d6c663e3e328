package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store — поверхность стрим-стора, которую потребляет движок.
// Все операции считаются атомарными на стороне стора; координация владения
// (PEL, claim) целиком делегирована ему, локальных блокировок нет.
type Store interface {
	// Append добавляет запись с приблизительным ограничением длины стрима
	// (maxLen <= 0 — без ограничения) и возвращает назначенный ID.
	Append(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)

	// CreateGroup идемпотентно создаёт группу со стартом от start,
	// создавая стрим при отсутствии. "Группа уже есть" — не ошибка.
	CreateGroup(ctx context.Context, stream, group, start string) error

	// DeleteConsumer убирает регистрацию consumer-а из группы.
	// Его pending-записи при этом НЕ переназначаются.
	DeleteConsumer(ctx context.Context, stream, group, consumer string) error

	// ReadGroup — конкурентное чтение только новых записей (маркер ">")
	// по всем каналам, до count записей на канал, с блокировкой до block.
	ReadGroup(ctx context.Context, group, consumer string, channels []string, count int64, block time.Duration) ([]redis.XStream, error)

	// Pending возвращает записи группы, простаивающие не меньше minIdle,
	// в диапазоне ID [start, end], не больше count штук.
	Pending(ctx context.Context, stream, group string, minIdle time.Duration, start, end string, count int64) ([]redis.XPendingExt, error)

	// Claim атомарно переназначает владение записями на consumer-а,
	// инкрементируя счётчик доставок. Записи без тела опускаются.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error)

	Ack(ctx context.Context, stream, group string, ids ...string) error
	Del(ctx context.Context, stream string, ids ...string) error

	// Range — скан по диапазону ID; границы включительные,
	// "-" / "+" — от начала / до конца.
	Range(ctx context.Context, stream, start, end string) ([]redis.XMessage, error)

	Len(ctx context.Context, stream string) (int64, error)
	PendingTotal(ctx context.Context, stream, group string) (int64, error)

	Ready(ctx context.Context) error
	Close() error
}
