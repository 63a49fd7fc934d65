package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract/mock"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/pipeline"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/processor"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:           ":0",
			MaxRequestBody: config.ByteSize(64 * 1024),
		},
		Extraction: config.ExtractionConfig{
			Timeout:         5 * time.Second,
			EstimatedTimeMs: 15000,
		},
		Polling: config.PollingConfig{
			BaseIntervalMs: 10,
			MaxIntervalMs:  100,
			DoubleEvery:    3,
			MaxPollCount:   120,
		},
	}
}

// newTestServer wires the full pipeline with a mock YouTube extractor.
func newTestServer(t *testing.T, ext extract.Extractor) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	store := jobs.NewMemStore()

	reg := extract.NewRegistry()
	if ext != nil {
		reg.Add(videourl.PlatformYouTubeShort, ext)
	}

	worker := processor.New(testLogger(), cfg, store, reg)
	queue := jobs.NewQueue(testLogger(), 16, 2)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := queue.Start(ctx, worker); err != nil {
		t.Fatalf("start queue: %v", err)
	}

	svc := &Service{
		Log:          testLogger(),
		Cfg:          cfg,
		Orchestrator: pipeline.NewOrchestrator(testLogger(), cfg, store, queue),
		Status:       pipeline.NewStatusService(testLogger(), cfg, store),
	}
	srv := httptest.NewServer(NewHTTPServer(svc).Handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func ownerHeaders() map[string]string {
	return map[string]string{common.HeaderUserID: "owner-1"}
}

func TestSubmit_RequiresIdentity(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://youtube.com/shorts/dQw4w9WgXcQ"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without identity header", resp.StatusCode)
	}
}

func TestSubmit_UnsupportedPlatform(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://vimeo.com/123456"}, ownerHeaders())
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "unsupported_platform" {
		t.Fatalf("error.code = %v", errObj["code"])
	}
	if s, _ := errObj["fallbackSuggestion"].(string); s == "" {
		t.Fatalf("fallbackSuggestion must be non-empty")
	}
}

func TestSubmit_InvalidURL(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "definitely not a url"}, ownerHeaders())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "invalid_url" {
		t.Fatalf("error.code = %v", errObj["code"])
	}
}

func pollUntilTerminal(t *testing.T, srv *httptest.Server, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := doJSON(t, http.MethodGet, srv.URL+common.PathVideos+"/"+jobID, nil, ownerHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("poll status = %d", resp.StatusCode)
		}
		switch body["status"] {
		case "completed", "failed", "unsupported":
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestSubmitAndPoll_CompletedFlow(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{TranscriptTxt: "the words"})

	resp, body := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{
			"url":     "https://youtube.com/shorts/dQw4w9WgXcQ",
			"options": map[string]any{"includeTranscript": true},
		}, ownerHeaders())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("submit body: %+v", body)
	}
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatalf("missing jobId: %+v", body)
	}
	if body["pollIntervalMs"].(float64) <= 0 || body["estimatedTimeMs"].(float64) <= 0 {
		t.Fatalf("missing polling hints: %+v", body)
	}

	final := pollUntilTerminal(t, srv, jobID)
	if final["status"] != "completed" {
		t.Fatalf("final status = %v: %+v", final["status"], final)
	}
	if final["progress"].(float64) != 100 {
		t.Fatalf("progress = %v, want 100", final["progress"])
	}
	md, _ := final["metadata"].(map[string]any)
	if md == nil || md["title"] == "" {
		t.Fatalf("completed response missing metadata: %+v", final)
	}
	if final["transcript"] != "the words" {
		t.Fatalf("transcript = %v", final["transcript"])
	}
	if _, hasErr := final["error"]; hasErr {
		t.Fatalf("completed response must omit error: %+v", final)
	}
}

func TestSubmitAndPoll_FailedFlowCarriesFallback(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{
		Err: jobs.NewJobError(jobs.CodePrivacyBlocked, "private video"),
	})

	_, body := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://youtube.com/shorts/dQw4w9WgXcQ"}, ownerHeaders())
	jobID, _ := body["jobId"].(string)

	final := pollUntilTerminal(t, srv, jobID)
	if final["status"] != "failed" {
		t.Fatalf("final status = %v", final["status"])
	}
	errObj, _ := final["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "privacy_blocked" {
		t.Fatalf("error = %+v", errObj)
	}
	if s, _ := errObj["fallbackSuggestion"].(string); s == "" {
		t.Fatalf("fallbackSuggestion missing")
	}
	if _, hasMD := final["metadata"]; hasMD {
		t.Fatalf("failed response must omit metadata: %+v", final)
	}
}

func TestSubmit_DuplicateReturnsSameJob(t *testing.T) {
	// Slow extractor keeps the first job in flight during the second submit.
	srv := newTestServer(t, &mock.Extractor{Delay: 500 * time.Millisecond})

	_, first := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://youtube.com/shorts/dQw4w9WgXcQ"}, ownerHeaders())
	resp, second := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://youtube.com/shorts/dQw4w9WgXcQ"}, ownerHeaders())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate submit status = %d, want 200", resp.StatusCode)
	}
	if first["jobId"] != second["jobId"] {
		t.Fatalf("duplicate submit created a new job: %v vs %v", first["jobId"], second["jobId"])
	}
}

func TestStatusByURL(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{})

	_, body := doJSON(t, http.MethodPost, srv.URL+common.PathVideos,
		map[string]any{"url": "https://youtube.com/shorts/dQw4w9WgXcQ"}, ownerHeaders())
	jobID, _ := body["jobId"].(string)

	// A different spelling of the same short resolves through normalization.
	resp, statusBody := doJSON(t, http.MethodGet,
		srv.URL+common.PathVideos+"?url="+url.QueryEscape("https://www.youtube.com/shorts/dQw4w9WgXcQ?feature=share"),
		nil, ownerHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if statusBody["jobId"] != jobID {
		t.Fatalf("resolved jobId = %v, want %v", statusBody["jobId"], jobID)
	}

	// Another owner must not see it.
	resp, _ = doJSON(t, http.MethodGet,
		srv.URL+common.PathVideos+"?url="+url.QueryEscape("https://youtube.com/shorts/dQw4w9WgXcQ"),
		nil, map[string]string{common.HeaderUserID: "owner-2"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-owner status = %d, want 404", resp.StatusCode)
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	srv := newTestServer(t, &mock.Extractor{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+common.PathVideos+"/no-such-id", nil, ownerHeaders())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("body = %+v", body)
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	store := jobs.NewMemStore()
	svc := &Service{
		Log:          testLogger(),
		Cfg:          cfg,
		Orchestrator: pipeline.NewOrchestrator(testLogger(), cfg, store, jobs.NewQueue(testLogger(), 1, 1)),
		Status:       pipeline.NewStatusService(testLogger(), cfg, store),
	}
	srv := httptest.NewServer(NewHTTPServer(svc).Handler)
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+common.PathVideos+"/x", nil, ownerHeaders())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without api key", resp.StatusCode)
	}

	headers := ownerHeaders()
	headers[common.HeaderAPIKey] = "secret"
	resp, _ = doJSON(t, http.MethodGet, srv.URL+common.PathVideos+"/x", nil, headers)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with valid key", resp.StatusCode)
	}
}
