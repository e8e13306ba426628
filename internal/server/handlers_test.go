package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/extract"
	"github.com/hyperjump/diydoctor/internal/generate"
	"github.com/hyperjump/diydoctor/internal/indexer"
	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/metrics"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/internal/pipeline"
	"github.com/hyperjump/diydoctor/internal/records"
)

type stubRecords map[string][]models.Record

func (s stubRecords) Lookup(_ context.Context, fp string) ([]models.Record, error) {
	return s[fp], nil
}

func newTestServer(t *testing.T) (http.Handler, *pipeline.Service) {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	e := embedding.NewMockEmbedder(64)
	m := metrics.New()
	src := stubRecords{"pat-1": {
		{Collection: records.LabReports, Fields: map[string]any{"test_name": "hba1c", "value": "6.9%"}},
		{Collection: records.DiseaseHistory, Fields: map[string]any{"condition": "prediabetes", "year": 2021}},
	}}
	gen := &llm.StaticClient{Name: "gen", Replies: []string{"Your hba1c is 6.9% [1]."}}
	jc := &llm.StaticClient{Name: "judge", Replies: []string{"YES"}}

	factory := pipeline.NewFactory(indexer.NewBuilder(e), e, &cfg.Retrieval, pipeline.WithMetrics(m))
	p := pipeline.New(generate.New(gen), judge.New(jc), pipeline.WithMetrics(m))
	svc := pipeline.NewService(factory, pipeline.NewRegistry(pipeline.WithMetrics(m)), p, src, nil)
	t.Cleanup(svc.Close)
	return NewServer(svc, m, &cfg.Server, zap.NewNop()).Handler(), svc
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAsk_patientFlow(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/sessions/patients/pat-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("load patient: %d %s", w.Code, w.Body)
	}
	var info pipeline.Info
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Key != "patient:pat-1" || info.Leaves == 0 {
		t.Errorf("info = %+v", info)
	}

	w = do(t, h, http.MethodPost, "/api/v1/ask", askRequest{Fingerprint: "pat-1", Query: "What is my hba1c?"})
	if w.Code != http.StatusOK {
		t.Fatalf("ask: %d %s", w.Code, w.Body)
	}
	var res pipeline.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusAnswered || res.Assessment.Verdict != judge.Good || len(res.Context) != 1 {
		t.Errorf("result = %+v", res)
	}

	w = do(t, h, http.MethodGet, "/api/v1/sessions", nil)
	var list struct {
		Sessions []pipeline.Info `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != info.ID {
		t.Errorf("sessions = %+v", list.Sessions)
	}

	w = do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), `route="/api/v1/ask"`) {
		t.Errorf("ask route not observed in metrics")
	}
}

func TestAsk_insufficientContext(t *testing.T) {
	h, _ := newTestServer(t)
	if w := do(t, h, http.MethodPost, "/api/v1/sessions/patients/nobody", nil); w.Code != http.StatusCreated {
		t.Fatalf("load: %d", w.Code)
	}
	w := do(t, h, http.MethodPost, "/api/v1/ask", askRequest{Fingerprint: "nobody", Query: "anything?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var res pipeline.Result
	_ = json.NewDecoder(w.Body).Decode(&res)
	if res.Status != pipeline.StatusInsufficientContext || res.Answer != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestAsk_badRequests(t *testing.T) {
	h, _ := newTestServer(t)
	tests := []struct {
		name string
		body any
		want int
	}{
		{"no selector", askRequest{Query: "q"}, http.StatusBadRequest},
		{"two selectors", askRequest{Fingerprint: "a", Document: "b", Query: "q"}, http.StatusBadRequest},
		{"unknown session", askRequest{Session: "patient:ghost", Query: "q"}, http.StatusNotFound},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, "/api/v1/ask", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestLoadDocument(t *testing.T) {
	h, svc := newTestServer(t)
	path := filepath.Join(t.TempDir(), "guide.txt")
	if err := os.WriteFile(path, []byte("Take ibuprofen with food. Do not exceed the daily dose."), 0o644); err != nil {
		t.Fatal(err)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/sessions/documents", map[string]string{"path": path}); w.Code != http.StatusCreated {
		t.Fatalf("path load: %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/sessions/documents", map[string]string{"path": path + ".missing"}); w.Code != http.StatusNotFound {
		t.Errorf("missing file: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/sessions/documents", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty path: %d", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "Rest and fluids help with a cold.")
	mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/documents", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", w.Code, w.Body)
	}
	if got := len(svc.Sessions()); got != 2 {
		t.Errorf("%d sessions, want 2", got)
	}

	if w := do(t, h, http.MethodDelete, "/api/v1/sessions?key=upload:notes.md", nil); w.Code != http.StatusOK {
		t.Errorf("delete: %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/sessions?key=upload:notes.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrEmptyQuery, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", pipeline.ErrSessionNotFound), http.StatusNotFound},
		{fmt.Errorf("read file: %w", fs.ErrNotExist), http.StatusNotFound},
		{extract.ErrUnsupported, http.StatusUnsupportedMediaType},
		{fmt.Errorf("judge: %w", judge.ErrEvaluation), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
