package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crosspost/internal/blob"
	"crosspost/internal/publisher"
	"crosspost/internal/transfer"
)

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/publish", func(r chi.Router) {
			r.Post("/", s.handleStartPublish)
			r.Post("/retry", s.handleRetryPublish)
			r.Get("/status", s.handlePublishStatus)
			r.Post("/reset", s.handlePublishReset)
		})

		r.Route("/files", func(r chi.Router) {
			r.Post("/", s.handleInitIngest)
			r.Put("/{fileID}/chunks/{index}", s.handleWriteChunk)
			r.Get("/{fileID}", s.handleMetadata)
			r.Get("/{fileID}/chunks/{index}", s.handleGetChunk)
			r.Post("/{fileID}/route", s.handleRouteTransfer)
			r.Delete("/{fileID}", s.handleDeleteFile)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Post("/", s.handleCoordinate)
			r.Post("/{sessionID}/chunk-complete", s.handleChunkComplete)
			r.Post("/{sessionID}/consumer-done", s.handleConsumerDone)
			r.Get("/{sessionID}", s.handleCheckComplete)
			r.Delete("/{sessionID}", s.handleCleanup)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// errStatus maps service sentinels onto HTTP codes; anything unknown is a 500.
func errStatus(err error) int {
	switch {
	case errors.Is(err, blob.ErrNotFound),
		errors.Is(err, blob.ErrSessionNotFound),
		errors.Is(err, transfer.ErrFileNotFound),
		errors.Is(err, transfer.ErrSessionNotFound),
		errors.Is(err, publisher.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, blob.ErrInvalidMetadata),
		errors.Is(err, blob.ErrChunkOutOfRange),
		errors.Is(err, transfer.ErrChunkOutOfRange),
		errors.Is(err, transfer.ErrNoConsumers),
		errors.Is(err, transfer.ErrUnknownConsumer):
		return http.StatusBadRequest
	case errors.Is(err, blob.ErrSessionComplete),
		errors.Is(err, publisher.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, publisher.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
