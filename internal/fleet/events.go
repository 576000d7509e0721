package fleet

import (
	"context"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/logger"
)

// Event 实体生命周期事件（目前仅删除）。由外部审计/通知方消费。
type Event struct {
	Kind  Kind
	ID    int64
	Plate string
	At    time.Time
}

// EventSink 生命周期事件出口。实现方不得阻塞删除事务（事件在提交后发出）。
type EventSink interface {
	EntityDeleted(ctx context.Context, ev Event)
}

type logSink struct {
	log logger.Logger
}

// NewLogSink 把生命周期事件写入结构化日志的最小实现。
func NewLogSink(log logger.Logger) EventSink {
	return &logSink{log: log}
}

func (s *logSink) EntityDeleted(_ context.Context, ev Event) {
	if s == nil || s.log == nil {
		return
	}
	fields := map[string]interface{}{
		"kind": string(ev.Kind),
	}
	if ev.Kind == KindFleetCar {
		fields["plate"] = ev.Plate
	} else {
		fields["id"] = ev.ID
	}
	s.log.WithFields(fields).Info("entity deleted")
}
