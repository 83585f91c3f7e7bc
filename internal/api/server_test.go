package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/nameindex"
	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
	"github.com/Epetaway/mtg-proxy-generator/internal/resolver"
	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
)

type fakeReader struct {
	mu      sync.Mutex
	reading ocr.Reading
}

func (f *fakeReader) Read(ctx context.Context, frame *capture.Frame) (*ocr.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reading
	return &r, nil
}

func (f *fakeReader) set(name string, confidence float64, number string) {
	f.mu.Lock()
	f.reading = ocr.Reading{
		Name:   ocr.Result{Text: name, Confidence: confidence},
		Number: ocr.Result{Text: number},
	}
	f.mu.Unlock()
}

type names []string

func (n names) FetchAllNames(ctx context.Context) ([]string, error) { return n, nil }

type catalogStub map[string][]catalog.CardIdentity

func (c catalogStub) SearchByName(ctx context.Context, name, setCode string) ([]catalog.CardIdentity, error) {
	return c[strings.ToLower(name)], nil
}

type persisted struct {
	mu    sync.Mutex
	scans []*scanner.FinalizedScan
}

func (p *persisted) PersistScan(ctx context.Context, scan *scanner.FinalizedScan) error {
	p.mu.Lock()
	p.scans = append(p.scans, scan)
	p.mu.Unlock()
	return nil
}

type fixture struct {
	server    *Server
	reader    *fakeReader
	persisted *persisted
	openErr   error
}

func newFixture(t *testing.T, openErr error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{reader: &fakeReader{}, persisted: &persisted{}, openErr: openErr}
	index := nameindex.New(nameindex.Config{
		Source: names{"Lightning Bolt", "Lightning Helix", "Counterspell"},
		Logger: logging.Discard(),
	})
	res := resolver.New(catalogStub{
		"lightning bolt": {
			{ID: "m11", Name: "Lightning Bolt", SetCode: "m11", CollectorNumber: "149"},
			{ID: "m21", Name: "Lightning Bolt", SetCode: "m21", CollectorNumber: "148"},
		},
		"counterspell": {{ID: "mh2", Name: "Counterspell", SetCode: "mh2", CollectorNumber: "267"}},
	}, logging.Discard())

	device := capture.NewDevice(func(ctx context.Context) (capture.Capturer, error) {
		if f.openErr != nil {
			return nil, f.openErr
		}
		return capture.NewStillCapturer(testImage(), "test"), nil
	})
	manager := scanner.NewManager(scanner.ManagerConfig{
		Device:    device,
		Pipeline:  scanner.NewPipeline(f.reader, index, res, 3, logging.Discard()),
		Resolver:  res,
		Index:     index,
		Persister: f.persisted,
		Defaults:  scanner.Settings{Threshold: 65, Interval: scanner.MinInterval, TargetCount: 5},
		Logger:    logging.Discard(),
	})
	t.Cleanup(func() { manager.Close() })

	f.server = NewServer(Config{
		Manager:      manager,
		Names:        index,
		SuggestLimit: 3,
		Checks: map[string]Checker{
			"catalog": func(ctx context.Context) error { return nil },
		},
		Logger: logging.Discard(),
	})
	return f
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 168))
	for y := 0; y < 168; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y), 40, 255})
		}
	}
	return img
}

func performRequest(h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := performRequest(f.server.Handler(), http.MethodGet, "/health", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if body["status"] != "ok" || body["checks"].(map[string]interface{})["catalog"] != "ok" {
		t.Fatalf("unexpected health %+v", body)
	}

	f.server.cfg.Checks["postgres"] = func(ctx context.Context) error { return errors.New("connection refused") }
	resp = performRequest(f.server.Handler(), http.MethodGet, "/health", nil, "")
	if resp.Code != http.StatusServiceUnavailable || decode(t, resp)["status"] != "degraded" {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t, nil)
	h := f.server.Handler()

	resp := performRequest(h, http.MethodPost, "/api/sessions", jsonBody(map[string]interface{}{"threshold": 70}), "application/json")
	if resp.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", resp.Code, resp.Body.String())
	}
	created := decode(t, resp)
	id := created["id"].(string)
	if created["threshold"].(float64) != 70 || created["targetCount"].(float64) != 5 || created["state"] != "idle" {
		t.Fatalf("unexpected session %+v", created)
	}

	resp = performRequest(h, http.MethodPost, "/api/sessions", nil, "")
	if resp.Code != http.StatusConflict || decode(t, resp)["error_code"] != string(scanerrors.ErrorDeviceBusy) {
		t.Fatalf("second session: status=%d body=%s", resp.Code, resp.Body.String())
	}

	f.reader.set("L1ghtn1ng B0lt\nC0unterspel1", 80, "148/280")
	resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/capture", nil, "")
	if resp.Code != http.StatusOK || decode(t, resp)["appended"].(float64) != 2 {
		t.Fatalf("capture status=%d body=%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/resolve", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("resolve status=%d body=%s", resp.Code, resp.Body.String())
	}
	var resolved struct {
		Matches []catalog.ResolvedMatch `json:"matches"`
	}
	json.Unmarshal(resp.Body.Bytes(), &resolved)
	if len(resolved.Matches) != 2 || resolved.Matches[0].Match == nil || resolved.Matches[0].Match.CollectorNumber != "148" {
		t.Fatalf("unexpected matches %+v", resolved.Matches)
	}

	resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/finalize", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("finalize status=%d body=%s", resp.Code, resp.Body.String())
	}
	var scan scanner.FinalizedScan
	json.Unmarshal(resp.Body.Bytes(), &scan)
	if len(scan.Tally) != 2 || !scan.Persisted || len(f.persisted.scans) != 1 {
		t.Fatalf("unexpected finalize result %+v", scan)
	}

	resp = performRequest(h, http.MethodGet, "/api/sessions/"+id, nil, "")
	if resp.Code != http.StatusOK || decode(t, resp)["acceptedCount"].(float64) != 0 {
		t.Fatalf("session should be cleared: %s", resp.Body.String())
	}

	resp = performRequest(h, http.MethodDelete, "/api/sessions/"+id, nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", resp.Code)
	}
	resp = performRequest(h, http.MethodGet, "/api/sessions/"+id, nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("deleted session status=%d", resp.Code)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	h := f.server.Handler()
	f.reader.set("Nothing legible", 10, "")

	resp := performRequest(h, http.MethodPost, "/api/sessions", nil, "")
	id := decode(t, resp)["id"].(string)

	resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/start", jsonBody(map[string]interface{}{"interval_ms": 50}), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("short interval: status=%d body=%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/start", jsonBody(map[string]interface{}{"interval_ms": 250, "target_count": 2}), "application/json")
	if resp.Code != http.StatusOK || decode(t, resp)["state"] != "running" {
		t.Fatalf("start status=%d body=%s", resp.Code, resp.Body.String())
	}

	for i := 0; i < 2; i++ {
		resp = performRequest(h, http.MethodPost, "/api/sessions/"+id+"/stop", nil, "")
		if resp.Code != http.StatusOK || decode(t, resp)["state"] != "stopped-manually" {
			t.Fatalf("stop %d status=%d body=%s", i, resp.Code, resp.Body.String())
		}
	}

	resp = performRequest(h, http.MethodPost, "/api/sessions/unknown/start", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown session status=%d", resp.Code)
	}
}

func TestCameraUnavailable(t *testing.T) {
	f := newFixture(t, scanerrors.NewCameraUnavailableError("webcam 0", errors.New("no device")))
	resp := performRequest(f.server.Handler(), http.MethodPost, "/api/sessions", nil, "")
	if resp.Code != http.StatusServiceUnavailable || decode(t, resp)["error_code"] != string(scanerrors.ErrorCameraUnavailable) {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestRecognize(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.set("L1ghtn1ng B0lt", 78, "2021 Core Set #148")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("frame", "card.png")
	png.Encode(part, testImage())
	mw.Close()

	resp := performRequest(f.server.Handler(), http.MethodPost, "/api/recognize", &buf, mw.FormDataContentType())
	if resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	var rec scanner.Recognition
	if err := json.Unmarshal(resp.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Tick.Candidate != "Lightning Bolt" || rec.Match == nil || rec.Match.Match.CollectorNumber != "148" {
		t.Fatalf("unexpected recognition %+v", rec)
	}

	resp = performRequest(f.server.Handler(), http.MethodPost, "/api/recognize", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing frame status=%d", resp.Code)
	}
}

func TestSuggest(t *testing.T) {
	f := newFixture(t, nil)
	h := f.server.Handler()

	tests := []struct {
		name   string
		path   string
		status int
		first  string
		count  int
	}{
		{"noisy name", "/api/suggest?q=L1ghtn1ng%20B0lt", http.StatusOK, "Lightning Bolt", -1},
		{"blank query", "/api/suggest?q=%20%20", http.StatusOK, "", 0},
		{"limit", "/api/suggest?q=Lightning%20Bolt&limit=1", http.StatusOK, "Lightning Bolt", 1},
		{"bad limit", "/api/suggest?q=Bolt&limit=zero", http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := performRequest(h, http.MethodGet, tt.path, nil, "")
			if resp.Code != tt.status {
				t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Suggestions []string `json:"suggestions"`
			}
			json.Unmarshal(resp.Body.Bytes(), &body)
			if body.Suggestions == nil {
				t.Fatal("suggestions should never be null")
			}
			if tt.count >= 0 && len(body.Suggestions) != tt.count {
				t.Fatalf("got %v, want %d entries", body.Suggestions, tt.count)
			}
			if tt.first != "" && (len(body.Suggestions) == 0 || body.Suggestions[0] != tt.first) {
				t.Fatalf("got %v, want %s first", body.Suggestions, tt.first)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scanner.ErrSessionNotFound, http.StatusNotFound},
		{scanerrors.NewInvalidConfigError("threshold", 101, "too high"), http.StatusBadRequest},
		{scanerrors.NewDeviceBusyError("other"), http.StatusConflict},
		{scanerrors.NewIndexBuildError(errors.New("offline")), http.StatusFailedDependency},
		{scanerrors.NewOCRTimeoutError("name", 0, nil), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
