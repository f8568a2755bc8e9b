package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crosspost/internal/blob"
	"crosspost/internal/host"
	"crosspost/internal/ledger"
	"crosspost/internal/publisher"
	"crosspost/internal/storage"
	"crosspost/internal/transfer"
	logx "crosspost/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	t.Helper()

	store := blob.NewStore(logx.Nop())
	sessions := blob.NewSessionManager(store, time.Minute, nil, logx.Nop())
	router := transfer.NewRouter(transfer.Config{ChunkSize: 4, DirectMax: 16}, store, logx.Nop())
	coord := transfer.NewCoordinator(router, store, nil, logx.Nop())

	led := ledger.New(nil, nil, logx.Nop())
	pub := publisher.New(publisher.Config{
		Enabled:           true,
		GroupPause:        time.Millisecond,
		HandshakeInterval: time.Millisecond,
		Settle:            time.Millisecond,
		JitterBase:        time.Microsecond,
		JitterRand:        time.Microsecond,
	}, host.NewFake(), led, logx.Nop())

	deps := Deps{
		Publisher: pub,
		Ledger:    led,
		Sessions:  sessions,
		Blobs:     store,
		Router:    router,
		Coord:     coord,
	}
	svc := New(Config{Enabled: true}, deps, logx.Nop())

	ts := httptest.NewServer(svc.router())
	t.Cleanup(ts.Close)
	return ts, deps
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestIngestAndDirectRoute(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	// initIngest
	resp := postJSON(t, ts.URL+"/v1/files", map[string]any{
		"name": "note.txt", "size": 6, "total_chunks": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("init status = %d", resp.StatusCode)
	}
	var initResp struct {
		FileID string `json:"file_id"`
	}
	decodeJSON(t, resp, &initResp)
	if initResp.FileID == "" {
		t.Fatalf("no file id")
	}

	// two chunks, out of order
	put := func(index int, data string, wantComplete bool) {
		body, _ := json.Marshal(map[string]any{
			"data": base64.StdEncoding.EncodeToString([]byte(data)),
		})
		req, _ := http.NewRequest(http.MethodPut,
			fmt.Sprintf("%s/v1/files/%s/chunks/%d", ts.URL, initResp.FileID, index),
			bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT chunk %d: %v", index, err)
		}
		var out struct {
			Complete bool `json:"complete"`
		}
		decodeJSON(t, resp, &out)
		if out.Complete != wantComplete {
			t.Fatalf("chunk %d complete = %v, want %v", index, out.Complete, wantComplete)
		}
	}
	put(1, "def", false)
	put(0, "abc", true)

	// small file routes direct with inline payload
	resp = postJSON(t, ts.URL+"/v1/files/"+initResp.FileID+"/route", map[string]any{})
	var route struct {
		Mode string `json:"mode"`
		Data string `json:"data"`
	}
	decodeJSON(t, resp, &route)
	if route.Mode != "direct" {
		t.Fatalf("mode = %q", route.Mode)
	}
	raw, err := base64.StdEncoding.DecodeString(route.Data)
	if err != nil || string(raw) != "abcdef" {
		t.Fatalf("payload = %q err=%v", raw, err)
	}
}

func TestChunkedServing(t *testing.T) {
	t.Parallel()
	ts, deps := newTestServer(t)

	data := []byte("abcdefghijklmnopqrst") // 20 bytes >= direct_max 16
	fileID := deps.Blobs.Put(blob.FileMeta{Name: "big.bin", Size: int64(len(data))}, data)

	resp, err := http.Get(ts.URL + "/v1/files/" + fileID)
	if err != nil {
		t.Fatalf("GET metadata: %v", err)
	}
	var meta struct {
		TotalChunks int `json:"total_chunks"`
	}
	decodeJSON(t, resp, &meta)
	if meta.TotalChunks != 5 {
		t.Fatalf("total chunks = %d, want 5", meta.TotalChunks)
	}

	resp, err = http.Get(ts.URL + "/v1/files/" + fileID + "/chunks/4")
	if err != nil {
		t.Fatalf("GET chunk: %v", err)
	}
	var chunk struct {
		Data   string `json:"data"`
		IsLast bool   `json:"is_last"`
	}
	decodeJSON(t, resp, &chunk)
	raw, _ := base64.StdEncoding.DecodeString(chunk.Data)
	if string(raw) != "qrst" || !chunk.IsLast {
		t.Fatalf("chunk = %q last=%v", raw, chunk.IsLast)
	}

	// A consumer may override the chunk size per request.
	resp, err = http.Get(ts.URL + "/v1/files/" + fileID + "/chunks/1?chunk_size=10")
	if err != nil {
		t.Fatalf("GET chunk with override: %v", err)
	}
	decodeJSON(t, resp, &chunk)
	raw, _ = base64.StdEncoding.DecodeString(chunk.Data)
	if string(raw) != "klmnopqrst" || !chunk.IsLast {
		t.Fatalf("override chunk = %q last=%v", raw, chunk.IsLast)
	}

	resp, err = http.Get(ts.URL + "/v1/files/" + fileID + "/chunks/0?chunk_size=wat")
	if err != nil {
		t.Fatalf("GET chunk with bad override: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad chunk_size status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/files/" + fileID + "/chunks/9")
	if err != nil {
		t.Fatalf("GET bad chunk: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range status = %d", resp.StatusCode)
	}
}

func TestDownloadCoordination(t *testing.T) {
	t.Parallel()
	ts, deps := newTestServer(t)

	fileID := deps.Blobs.Put(blob.FileMeta{Name: "d.bin", Size: 8}, make([]byte, 8)) // 2 chunks

	resp := postJSON(t, ts.URL+"/v1/downloads", map[string]any{
		"file_id": fileID, "consumers": []string{"a", "b"},
	})
	var coord struct {
		SessionID   string           `json:"session_id"`
		TotalChunks int              `json:"total_chunks"`
		Assignment  map[string][]int `json:"assignment"`
	}
	decodeJSON(t, resp, &coord)
	if coord.TotalChunks != 2 || len(coord.Assignment["a"]) != 1 {
		t.Fatalf("coordinate = %+v", coord)
	}

	mark := func(consumer string, index int) bool {
		resp := postJSON(t, ts.URL+"/v1/downloads/"+coord.SessionID+"/chunk-complete", map[string]any{
			"consumer_id": consumer, "index": index,
		})
		var out struct {
			AllComplete bool `json:"all_complete"`
		}
		decodeJSON(t, resp, &out)
		return out.AllComplete
	}

	if mark("a", coord.Assignment["a"][0]) {
		t.Fatalf("all_complete after first chunk")
	}
	if !mark("b", coord.Assignment["b"][0]) {
		t.Fatalf("all_complete not reported on the finishing chunk")
	}

	resp, err := http.Get(ts.URL + "/v1/downloads/" + coord.SessionID)
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	var progress struct {
		Complete bool `json:"complete"`
	}
	decodeJSON(t, resp, &progress)
	if !progress.Complete {
		t.Fatalf("progress = %+v", progress)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/downloads/"+coord.SessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status = %d", resp.StatusCode)
	}
}

func TestPublishStatusAndReset(t *testing.T) {
	t.Parallel()
	ts, deps := newTestServer(t)

	deps.Ledger.SetStatus(context.Background(), storage.StatusRecord{
		TargetID: "t1",
		Status:   ledger.StatusReady,
	})

	resp, err := http.Get(ts.URL + "/v1/publish/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var snap struct {
		IsPublishing bool `json:"is_publishing"`
		Results      []struct {
			TargetID string `json:"target_id"`
			Status   string `json:"status"`
		} `json:"results"`
	}
	decodeJSON(t, resp, &snap)
	if len(snap.Results) != 1 || snap.Results[0].Status != ledger.StatusReady {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp = postJSON(t, ts.URL+"/v1/publish/reset", map[string]any{"reason": "test"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/v1/publish/status")
	decodeJSON(t, resp, &snap)
	if len(snap.Results) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestStartPublishValidation(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/publish", map[string]any{"title": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing targets status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/publish", map[string]any{"targets": []string{"t1"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty content status = %d", resp.StatusCode)
	}
}

func TestUnknownFileIs404(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/files/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
