package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// eventBuffer lets a producer run ahead of a slow client.
const eventBuffer = 64

// streamEvents runs produce in its own goroutine and writes each event as an
// SSE frame. The done event is written as the [DONE] marker.
//
// streamEvents returns only after produce has returned, so request-scoped
// resources in r's context (the tenant connection) outlive the producer.
// Once the client is gone the remaining events are discarded.
func streamEvents(w http.ResponseWriter, r *http.Request, logger *zap.Logger, produce func(ctx context.Context, events chan<- models.ChatEvent) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan models.ChatEvent, eventBuffer)
	go func() {
		defer close(events)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Stream producer panicked",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
				events <- models.NewErrorEvent(models.ErrorCodeInternal, "An unexpected error occurred")
			}
		}()
		if err := produce(r.Context(), events); err != nil {
			logger.Debug("Stream producer finished with error", zap.Error(err))
		}
	}()

	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		if r.Context().Err() != nil {
			clientGone = true
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			logger.Debug("Client stopped reading stream", zap.Error(err))
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, ev models.ChatEvent) error {
	if ev.Type == models.ChatEventDone {
		_, err := fmt.Fprintf(w, "data: %s\n\n", models.DoneSentinel)
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
