package metrics

import (
	"context"
	"log"
	"time"
)

// StreamStats — минимальный срез стора, нужный коллектору.
type StreamStats interface {
	Len(ctx context.Context, stream string) (int64, error)
	PendingTotal(ctx context.Context, stream, group string) (int64, error)
}

// StartStreamCollector периодически обновляет gauge-метрики длины стримов
// и количества pending-записей по каждому каналу.
func StartStreamCollector(ctx context.Context, st StreamStats, channels []string, group string, interval time.Duration, logger *log.Logger) {
	if st == nil || len(channels) == 0 {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		updateStreamGauges(ctx, st, channels, group, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				updateStreamGauges(ctx, st, channels, group, logger)
			}
		}
	}()
}

func updateStreamGauges(ctx context.Context, st StreamStats, channels []string, group string, logger *log.Logger) {
	for _, ch := range channels {
		n, err := st.Len(ctx, ch)
		if err != nil {
			logger.Printf("metrics stream len %s: %v", ch, err)
		} else {
			SetStreamLength(ch, n)
		}

		// стрим мог ещё не появиться — это не повод шуметь в логах
		pending, err := st.PendingTotal(ctx, ch, group)
		if err != nil {
			continue
		}
		SetPendingMessages(ch, pending)
	}
}
