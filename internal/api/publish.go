package api

import (
	"errors"
	"net/http"

	"crosspost/internal/target"
	logx "crosspost/pkg/logx"
)

type startPublishRequest struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	FileIDs  []string `json:"file_ids,omitempty"`
	HasVideo bool     `json:"has_video,omitempty"`
	Targets  []string `json:"targets"`
}

// handleStartPublish accepts a batch and returns immediately; progress is
// observed through the status ledger, not this request.
func (s *Service) handleStartPublish(w http.ResponseWriter, r *http.Request) {
	var req startPublishRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Targets) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("targets required"))
		return
	}
	if req.Title == "" && req.Body == "" {
		writeErr(w, http.StatusBadRequest, errors.New("title or body required"))
		return
	}

	post := target.Post{
		Title:    req.Title,
		Body:     req.Body,
		FileIDs:  req.FileIDs,
		HasVideo: req.HasVideo,
	}
	go func() {
		if err := s.deps.Publisher.ExecuteBatch(s.base, req.Targets, post); err != nil {
			s.log.Warn("batch rejected", logx.Err(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "targets": len(req.Targets)})
}

type retryPublishRequest struct {
	Target string `json:"target"`
}

func (s *Service) handleRetryPublish(w http.ResponseWriter, r *http.Request) {
	var req retryPublishRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Target == "" {
		writeErr(w, http.StatusBadRequest, errors.New("target required"))
		return
	}

	if err := s.deps.Publisher.Retry(r.Context(), req.Target); err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": req.Target})
}

func (s *Service) handlePublishStatus(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, s.deps.Ledger.Snapshot())
}

type publishResetRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Service) handlePublishReset(w http.ResponseWriter, r *http.Request) {
	var req publishResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator reset"
	}
	s.deps.Ledger.Reset(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
