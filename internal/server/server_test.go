package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"easel/internal/config"
	"easel/internal/degrade"
	"easel/internal/inference"
	"easel/internal/logging"
	"easel/internal/notify"
	"easel/internal/scheduler"
	"easel/internal/server"
	"easel/internal/session"
	"easel/internal/testsupport"
)

type stubGenerator struct {
	image []byte
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, req *inference.GenerateRequest) (*inference.GenerateResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	seed := int64(7)
	return &inference.GenerateResult{Image: g.image, Seed: &seed}, nil
}

type harness struct {
	cfg    *config.Config
	store  *session.Store
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := session.NewStore(cfg, logging.NewNop())
	hub := notify.NewHub(logging.NewNop())
	gen := &stubGenerator{image: []byte("result-bytes")}
	manager := scheduler.NewManager(cfg, store, hub, degrade.NewController(cfg), gen, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go manager.Run(ctx)

	api := server.New(cfg, store, manager, hub, nil, logging.NewNop())
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &harness{cfg: cfg, store: store, srv: srv, client: &http.Client{Jar: jar}}
}

func (h *harness) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := h.client.Post(h.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp := h.postJSON(t, "/api/auth/login", map[string]string{"password": h.cfg.Server.AuthPassword})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
}

func (h *harness) upload(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="base.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("png-base-image"))
	writer.Close()

	resp, err := h.client.Post(h.srv.URL+"/api/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}
	var payload struct {
		ImageID string `json:"image_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return payload.ImageID
}

func (h *harness) generate(t *testing.T, imageID string) string {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("base_image_id", imageID)
	writer.WriteField("prompt", "a quiet harbor at dawn")
	writer.WriteField("quality", "normal")
	sketch, err := writer.CreateFormFile("sketch_png", "sketch.png")
	if err != nil {
		t.Fatalf("sketch part: %v", err)
	}
	sketch.Write([]byte("sketch-bytes"))
	writer.Close()

	resp, err := h.client.Post(h.srv.URL+"/api/generate", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate status = %d: %s", resp.StatusCode, body)
	}
	var payload struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	if payload.Status != "queued" {
		t.Fatalf("submit status = %q", payload.Status)
	}
	return payload.JobID
}

func (h *harness) waitForDone(t *testing.T, jobID string) scheduler.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := h.client.Get(h.srv.URL + "/api/generate/status/" + jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var snapshot scheduler.Snapshot
		err = json.NewDecoder(resp.Body).Decode(&snapshot)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snapshot.Status == scheduler.StatusDone {
			return snapshot
		}
		if snapshot.Status == scheduler.StatusError {
			t.Fatalf("job failed: %s", snapshot.ErrorMessage)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never finished")
	return scheduler.Snapshot{}
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t)

	resp := h.postJSON(t, "/api/auth/login", map[string]string{"password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}

	h.login(t)

	me, err := h.client.Get(h.srv.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", me.StatusCode)
	}

	logout, err := h.client.Post(h.srv.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	logout.Body.Close()
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", logout.StatusCode)
	}

	after, err := h.client.Get(h.srv.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("me after logout: %v", err)
	}
	after.Body.Close()
	if after.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", after.StatusCode)
	}
}

func TestUploadRejectsBadType(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="doc.gif"`)
	header.Set("Content-Type", "image/gif")
	part, _ := writer.CreatePart(header)
	part.Write([]byte("gif"))
	writer.Close()

	resp, err := h.client.Post(h.srv.URL+"/api/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGenerateAndDownloadResult(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	imageID := h.upload(t)
	jobID := h.generate(t, imageID)
	snapshot := h.waitForDone(t, jobID)

	if snapshot.ResultURL == nil || snapshot.DownloadToken == "" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	// Token download succeeds once.
	url := fmt.Sprintf("%s%s?t=%s", h.srv.URL, *snapshot.ResultURL, snapshot.DownloadToken)
	resp, err := h.client.Get(url)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "result-bytes" {
		t.Fatalf("download status = %d body = %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "easel-gen-") {
		t.Fatalf("disposition = %q", got)
	}

	// The token is single-use.
	again, err := h.client.Get(url)
	if err != nil {
		t.Fatalf("re-download: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusUnauthorized {
		t.Fatalf("re-download status = %d", again.StatusCode)
	}

	// Ownership still allows a plain download.
	owned, err := h.client.Get(h.srv.URL + *snapshot.ResultURL)
	if err != nil {
		t.Fatalf("owned download: %v", err)
	}
	owned.Body.Close()
	if owned.StatusCode != http.StatusOK {
		t.Fatalf("owned download status = %d", owned.StatusCode)
	}
}

func TestHistoryUndoConflict(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	imageID := h.upload(t)
	jobID := h.generate(t, imageID)
	h.waitForDone(t, jobID)

	// One stored result: undo has nothing older to restore.
	resp, err := h.client.Post(h.srv.URL+"/api/history/undo", "application/json", nil)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("undo status = %d", resp.StatusCode)
	}

	second := h.generate(t, imageID)
	h.waitForDone(t, second)

	ok, err := h.client.Post(h.srv.URL+"/api/history/undo", "application/json", nil)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("undo status = %d", ok.StatusCode)
	}
	var payload struct {
		ResultID string `json:"result_id"`
	}
	if err := json.NewDecoder(ok.Body).Decode(&payload); err != nil {
		t.Fatalf("decode undo: %v", err)
	}
	if payload.ResultID != jobID {
		t.Fatalf("undo restored %q, want %q", payload.ResultID, jobID)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.postJSON(t, "/api/generate/cancel", map[string]string{"job_id": "job_missing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebsocketSubscribe(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	imageID := h.upload(t)
	jobID := h.generate(t, imageID)
	h.waitForDone(t, jobID)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{Jar: h.client.Jar}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": jobID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var status map[string]any
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status["type"] != "done" || status["value"] != "done" {
		t.Fatalf("replayed status = %v", status)
	}
	var result map[string]any
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if result["type"] != "result" || result["download_token"] == "" {
		t.Fatalf("replayed result = %v", result)
	}

	// Unknown jobs produce an error message, not a closed socket.
	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": "job_missing"}); err != nil {
		t.Fatalf("subscribe unknown: %v", err)
	}
	var wsErr map[string]any
	if err := conn.ReadJSON(&wsErr); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if wsErr["type"] != "error" {
		t.Fatalf("error message = %v", wsErr)
	}
}
