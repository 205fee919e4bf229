package telemetry

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// LogSubscriber writes events to logger, at the level each event carries.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	return func(e Event) {
		var ev *zerolog.Event
		switch e.Level {
		case EventLevelError:
			ev = logger.Error()
		case EventLevelWarning:
			ev = logger.Warn()
		default:
			ev = logger.Info()
		}
		ev = ev.Str("event", e.Type).Str("source", e.Source)
		if e.RunID != "" {
			ev = ev.Str("run_id", e.RunID)
		}
		if e.Kind != "" {
			ev = ev.Str("kind", e.Kind)
		}
		if e.EntityID != "" {
			ev = ev.Str("id", e.EntityID)
		}
		if len(e.Data) > 0 {
			ev = ev.Fields(e.Data)
		}
		ev.Msg(e.Message)
	}
}

// JSONSubscriber writes every event to w as one JSON document per line.
func JSONSubscriber(w io.Writer) EventSubscriber {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	}
}
