package inference_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"easel/internal/inference"
	"easel/internal/logging"
	"easel/internal/quality"
	"easel/internal/testsupport"
)

func newTestClient(t *testing.T, endpoints []string) *inference.Client {
	t.Helper()
	return inference.NewClient(testsupport.NewConfig(t), logging.NewNop(),
		inference.WithEndpoints(endpoints),
		inference.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
}

func sampleRequest() *inference.GenerateRequest {
	preset, _ := quality.PresetFor(quality.Normal)
	return &inference.GenerateRequest{
		Prompt:        "a lighthouse at dusk",
		Preset:        preset,
		BaseImage:     []byte("base-png"),
		ScribbleImage: []byte("scribble-png"),
	}
}

func TestGenerateJSONResponse(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("prompt"); got != "a lighthouse at dusk" {
			t.Errorf("prompt = %q", got)
		}
		if got := r.FormValue("num_inference_steps"); got != "6" {
			t.Errorf("num_inference_steps = %q", got)
		}
		if _, _, err := r.FormFile("base_image"); err != nil {
			t.Errorf("base_image part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"image_base64":"` + base64.StdEncoding.EncodeToString(image) + `","seed":"4242"}`))
	}))
	defer server.Close()

	result, err := newTestClient(t, []string{server.URL}).Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(result.Image) != string(image) {
		t.Fatalf("image bytes = %v", result.Image)
	}
	if result.Seed == nil || *result.Seed != 4242 {
		t.Fatalf("seed = %v", result.Seed)
	}
}

func TestGenerateRawImageResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Seed", "77")
		w.Write([]byte("raw-image"))
	}))
	defer server.Close()

	result, err := newTestClient(t, []string{server.URL}).Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(result.Image) != "raw-image" {
		t.Fatalf("image = %q", result.Image)
	}
	if result.Seed == nil || *result.Seed != 77 {
		t.Fatalf("seed = %v", result.Seed)
	}
}

func TestGenerateErrorStatuses(t *testing.T) {
	var status atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code == http.StatusBadRequest {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			w.Write([]byte(`{"error":{"message":"prompt rejected"}}`))
			return
		}
		w.WriteHeader(code)
	}))
	defer server.Close()
	client := newTestClient(t, []string{server.URL})

	status.Store(http.StatusTooManyRequests)
	if _, err := client.Generate(context.Background(), sampleRequest()); !errors.Is(err, inference.ErrOverloaded) {
		t.Fatalf("429: err = %v", err)
	}

	status.Store(http.StatusBadRequest)
	_, err := client.Generate(context.Background(), sampleRequest())
	if !errors.Is(err, inference.ErrRequestFailed) {
		t.Fatalf("400: err = %v", err)
	}
	if !strings.Contains(err.Error(), "prompt rejected") {
		t.Fatalf("400 message = %q", err)
	}
}

func TestGenerateBadContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	if _, err := newTestClient(t, []string{server.URL}).Generate(context.Background(), sampleRequest()); !errors.Is(err, inference.ErrBadResponse) {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateFailoverToNextCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	// First candidate refuses connections; the client must retry it up
	// to the attempt limit and then fall through.
	dead := httptest.NewServer(http.HandlerFunc(nil))
	dead.Close()

	result, err := newTestClient(t, []string{dead.URL, server.URL}).Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(result.Image) != "ok" {
		t.Fatalf("image = %q", result.Image)
	}
}

func TestGenerateAllCandidatesDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(nil))
	dead.Close()

	_, err := newTestClient(t, []string{dead.URL}).Generate(context.Background(), sampleRequest())
	if !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), dead.URL) {
		t.Fatalf("diagnostic lacks endpoint: %v", err)
	}
}

func TestGenerateTimeoutAbortsFailover(t *testing.T) {
	var calls atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Drain the body so the server can detect the client hanging
		// up; with unread body bytes the request context is never
		// canceled and Close would deadlock.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer slow.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("ok"))
	}))
	defer fallback.Close()

	cfg := testsupport.NewConfig(t)
	client := inference.NewClient(cfg, logging.NewNop(),
		inference.WithEndpoints([]string{slow.URL, fallback.URL}),
		inference.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		inference.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)

	_, err := client.Generate(context.Background(), sampleRequest())
	if !errors.Is(err, inference.ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("backend calls = %d, timeout must not fail over", got)
	}
}
