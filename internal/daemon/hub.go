package daemon

import (
	"log/slog"
	"sync"

	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/media"
)

// subscriberBuffer is how many updates a WebSocket client may lag behind
// before updates are dropped for it.
const subscriberBuffer = 64

// hub fans task progress out to WebSocket subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the update.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	taskID  string
	updates chan conversion.ProgressUpdate
	dropped int
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logging.NewComponentLogger(logger, "progress-hub"),
	}
}

// subscribe registers a listener. An empty taskID receives every task.
func (h *hub) subscribe(taskID string) *subscriber {
	sub := &subscriber{taskID: taskID, updates: make(chan conversion.ProgressUpdate, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	dropped := sub.dropped
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Debug("subscriber missed updates", logging.Int("dropped", dropped))
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) publish(update conversion.ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.taskID != "" && sub.taskID != update.TaskID {
			continue
		}
		select {
		case sub.updates <- update:
		default:
			sub.dropped++
		}
	}
}

// consume is the single receiver of a task's progress stream. It drains the
// stream to completion, logging sampled progress and publishing every update.
func (h *hub) consume(taskID string, kind media.Kind, stream <-chan conversion.ProgressUpdate) {
	logger := h.logger.With(
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldMediaKind, string(kind)),
	)
	sampler := logging.NewProgressSampler(0)
	for update := range stream {
		h.publish(update)
		if update.Terminal() {
			logger.Info("task finished",
				logging.String("status", string(update.Status)),
				logging.Float64("percent", update.Percentage),
				logging.String("message", update.StatusMessage),
			)
			continue
		}
		if sampler.ShouldLog(update.Percentage, update.StatusMessage) {
			logger.Info("task progress",
				logging.Float64("percent", update.Percentage),
				logging.String("message", update.StatusMessage),
			)
		}
	}
}
