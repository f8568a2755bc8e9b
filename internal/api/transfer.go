package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"crosspost/internal/blob"
)

type initIngestRequest struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"type,omitempty"`
	LastModified int64  `json:"last_modified,omitempty"` // unix millis
	TotalChunks  int    `json:"total_chunks"`
}

func (s *Service) handleInitIngest(w http.ResponseWriter, r *http.Request) {
	var req initIngestRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	meta := blob.IngestMeta{
		Name:        req.Name,
		Size:        req.Size,
		MimeType:    req.MimeType,
		TotalChunks: req.TotalChunks,
	}
	if req.LastModified > 0 {
		meta.LastModified = time.UnixMilli(req.LastModified)
	}

	fileID, err := s.deps.Sessions.InitIngest(meta)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file_id": fileID})
}

type writeChunkRequest struct {
	Data   string `json:"data"` // base64
	IsLast bool   `json:"is_last,omitempty"`
}

func (s *Service) handleWriteChunk(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	index, err := chunkIndex(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	var req writeChunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeErr(w, http.StatusBadRequest, errors.New("data is not valid base64"))
		return
	}

	complete, err := s.deps.Sessions.WriteChunk(fileID, index, data, req.IsLast)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"complete": complete})
}

func (s *Service) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.deps.Router.Metadata(chi.URLParam(r, "fileID"))
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         meta.Name,
		"size":         meta.Size,
		"chunk_size":   meta.ChunkSize,
		"total_chunks": meta.TotalChunks,
	})
}

func (s *Service) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	index, err := chunkIndex(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	size, err := chunkSizeOverride(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	data, isLast, err := s.deps.Router.Chunk(fileID, index, size)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":   index,
		"data":    base64.StdEncoding.EncodeToString(data),
		"is_last": isLast,
	})
}

func (s *Service) handleRouteTransfer(w http.ResponseWriter, r *http.Request) {
	route, err := s.deps.Router.RouteTransfer(chi.URLParam(r, "fileID"))
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}

	resp := map[string]any{
		"mode":         route.Mode,
		"size":         route.Size,
		"chunk_size":   route.ChunkSize,
		"total_chunks": route.TotalChunks,
	}
	if len(route.Bytes) > 0 {
		resp["data"] = base64.StdEncoding.EncodeToString(route.Bytes)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")
	if !s.deps.Blobs.Delete(id) {
		writeErr(w, http.StatusNotFound, blob.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type coordinateRequest struct {
	FileID    string   `json:"file_id"`
	Consumers []string `json:"consumers"`
}

func (s *Service) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	var req coordinateRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.deps.Coord.Coordinate(req.FileID, req.Consumers)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   res.SessionID,
		"total_chunks": res.TotalChunks,
		"assignment":   res.Assignment,
	})
}

type chunkCompleteRequest struct {
	ConsumerID string `json:"consumer_id"`
	Index      int    `json:"index"`
}

func (s *Service) handleChunkComplete(w http.ResponseWriter, r *http.Request) {
	var req chunkCompleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	allComplete, err := s.deps.Coord.MarkChunkComplete(chi.URLParam(r, "sessionID"), req.Index, req.ConsumerID)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"all_complete": allComplete})
}

type consumerDoneRequest struct {
	ConsumerID string `json:"consumer_id"`
}

func (s *Service) handleConsumerDone(w http.ResponseWriter, r *http.Request) {
	var req consumerDoneRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	allDone, err := s.deps.Coord.ConsumerDone(chi.URLParam(r, "sessionID"), req.ConsumerID)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"all_done": allDone})
}

func (s *Service) handleCheckComplete(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Coord.CheckComplete(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"complete":         progress.Complete,
		"total_chunks":     progress.TotalChunks,
		"completed_chunks": progress.CompletedChunks,
	})
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.deps.Coord.Cleanup(id) {
		writeErr(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": id})
}

// chunkSizeOverride reads the optional chunk_size query parameter; 0 means
// the configured wire size.
func chunkSizeOverride(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("chunk_size")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid chunk_size")
	}
	return n, nil
}

func chunkIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, errors.New("invalid chunk index")
	}
	return index, nil
}
