package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/GoBell/internal/logic/doorbell"
	"github.com/cjeanneret/GoBell/internal/logic/imagecodec"
	"github.com/cjeanneret/GoBell/internal/upload"
)

// ---------- Handler helpers ----------

// fakeDoorbell accepts one ring until reset.
type fakeDoorbell struct {
	mu      sync.Mutex
	busy    bool
	sources []string
}

func (f *fakeDoorbell) Trigger(source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.busy = true
	f.sources = append(f.sources, source)
	return true
}

func (f *fakeDoorbell) Stats() doorbell.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := doorbell.Stats{State: "Idle", Cycles: uint64(len(f.sources))}
	if f.busy {
		st.State = "Capturing"
	}
	return st
}

type failingLister struct{}

func (failingLister) List(context.Context, string, int) ([]upload.Record, error) {
	return nil, errors.New("redis: connection refused")
}

var testStatic = fstest.MapFS{
	"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	"avatar.svg": &fstest.MapFile{Data: []byte("<svg></svg>")},
}

func newTestHandlers(d Deps) *Handlers {
	return NewHandlers(d, testStatic)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// ---------- HandleRing ----------

func TestHandleRing_Accepted(t *testing.T) {
	bell := &fakeDoorbell{}
	h := newTestHandlers(Deps{Doorbell: bell})
	req := httptest.NewRequest(http.MethodPost, "/ring", nil)
	w := httptest.NewRecorder()

	h.HandleRing(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ringing" {
		t.Errorf("response status = %q, want \"ringing\"", resp["status"])
	}
	if len(bell.sources) != 1 || bell.sources[0] != doorbell.SourceWeb {
		t.Errorf("sources = %v, want [web]", bell.sources)
	}
}

func TestHandleRing_Busy(t *testing.T) {
	h := newTestHandlers(Deps{Doorbell: &fakeDoorbell{busy: true}})
	req := httptest.NewRequest(http.MethodPost, "/ring", nil)
	w := httptest.NewRecorder()

	h.HandleRing(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleRing_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(Deps{Doorbell: &fakeDoorbell{}})
	req := httptest.NewRequest(http.MethodGet, "/ring", nil)
	w := httptest.NewRecorder()

	h.HandleRing(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleRing_NotConfigured(t *testing.T) {
	h := newTestHandlers(Deps{})
	req := httptest.NewRequest(http.MethodPost, "/ring", nil)
	w := httptest.NewRecorder()

	h.HandleRing(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleRing_ConcurrentRequests(t *testing.T) {
	h := newTestHandlers(Deps{Doorbell: &fakeDoorbell{}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleRing(w, httptest.NewRequest(http.MethodPost, "/ring", nil))
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusAccepted] != 1 || codes[http.StatusConflict] != 19 {
		t.Errorf("codes = %v, want one 202 and nineteen 409", codes)
	}
}

// ---------- HandleStatus ----------

func TestHandleButton(t *testing.T) {
	presses := 0
	pressed := func() int { presses++; return 1 }
	unwatched := func() int { return 0 }

	cases := []struct {
		name   string
		method string
		press  func() int
		want   int
	}{
		{"pressed", http.MethodPost, pressed, http.StatusAccepted},
		{"not_watched", http.MethodPost, unwatched, http.StatusServiceUnavailable},
		{"no_mock_driver", http.MethodPost, nil, http.StatusNotFound},
		{"get", http.MethodGet, pressed, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(Deps{PressButton: tc.press})
			rec := httptest.NewRecorder()
			h.HandleButton(rec, httptest.NewRequest(tc.method, "/button", nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if presses != 1 {
		t.Errorf("presses = %d, want 1", presses)
	}
}

func TestServerMux_ButtonRouteOnlyWithMock(t *testing.T) {
	without := httptest.NewServer(NewServer(":0", Deps{}).Mux())
	defer without.Close()
	resp, err := http.Post(without.URL+"/button", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /button without mock = %d, want 404", resp.StatusCode)
	}

	with := httptest.NewServer(NewServer(":0", Deps{PressButton: func() int { return 1 }}).Mux())
	defer with.Close()
	resp, err = http.Post(with.URL+"/button", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("POST /button with mock = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Get(with.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.SimButton {
		t.Error("status should advertise the simulated button")
	}
}

func TestHandleStatus(t *testing.T) {
	bell := &fakeDoorbell{}
	bell.Trigger(doorbell.SourceButton)
	h := newTestHandlers(Deps{
		Doorbell:      bell,
		Uploads:       func() upload.WorkerStats { return upload.WorkerStats{Pushed: 3, Failed: 1} },
		ButtonEnabled: func() bool { return true },
	})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Doorbell.State != "Capturing" || st.Doorbell.Cycles != 1 {
		t.Errorf("doorbell = %+v", st.Doorbell)
	}
	if st.Upload.Pushed != 3 || st.Upload.Failed != 1 {
		t.Errorf("upload = %+v", st.Upload)
	}
	if !st.ButtonEnabled {
		t.Error("button_enabled = false, want true")
	}
}

func TestHandleStatus_NoDeps(t *testing.T) {
	h := newTestHandlers(Deps{})
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ---------- Preview ----------

func TestPreview_IdleServesPlaceholder(t *testing.T) {
	p := NewPreview(nil, testStatic)
	h := newTestHandlers(Deps{Preview: p})
	w := httptest.NewRecorder()

	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview", nil))

	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q, want image/svg+xml", ct)
	}
	if w.Body.String() != "<svg></svg>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestPreview_RenderAndReset(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()
	p := NewPreview(b, testStatic)
	img := testJPEG(t)

	p.Render(imagecodec.Encode(img))
	if !p.Showing() {
		t.Fatal("Showing() = false after Render")
	}

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), img) {
		t.Error("preview body differs from rendered image")
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("preview must not be cached")
	}

	p.RenderIdlePlaceholder()
	if p.Showing() {
		t.Error("Showing() = true after reset")
	}

	for i, want := range []string{"1", "2"} {
		select {
		case msg := <-ch:
			var evt StatusEvent
			json.Unmarshal([]byte(msg), &evt)
			if evt.Kind != KindPreview || evt.Msg != want {
				t.Errorf("event %d = %+v, want preview %s", i, evt, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for preview event")
		}
	}
}

func TestPreview_BadEncoding(t *testing.T) {
	p := NewPreview(nil, testStatic)
	p.Render("not*base64")
	if p.Showing() {
		t.Error("undecodable frame must fall back to the placeholder")
	}
}

func TestHandlePreview_NotConfigured(t *testing.T) {
	h := newTestHandlers(Deps{})
	w := httptest.NewRecorder()
	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleLogs ----------

func TestHandleLogs(t *testing.T) {
	mem := upload.NewMemorySink(0)
	for _, img := range []string{"a", "b", "c"} {
		mem.Push(context.Background(), upload.DefaultPath, upload.LogEntry{Image: img})
	}
	h := newTestHandlers(Deps{Logs: mem})

	w := httptest.NewRecorder()
	h.HandleLogs(w, httptest.NewRequest(http.MethodGet, "/logs?n=2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var recs []upload.Record
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 || recs[0].Entry.Image != "c" || recs[1].Entry.Image != "b" {
		t.Errorf("records = %+v", recs)
	}
}

func TestHandleLogs_Empty(t *testing.T) {
	h := newTestHandlers(Deps{Logs: upload.NewMemorySink(0)})
	w := httptest.NewRecorder()
	h.HandleLogs(w, httptest.NewRequest(http.MethodGet, "/logs", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestHandleLogs_Errors(t *testing.T) {
	cases := []struct {
		name string
		deps Deps
		url  string
		want int
	}{
		{"no lister", Deps{}, "/logs", http.StatusNotImplemented},
		{"n zero", Deps{Logs: upload.NewMemorySink(0)}, "/logs?n=0", http.StatusBadRequest},
		{"n too large", Deps{Logs: upload.NewMemorySink(0)}, "/logs?n=101", http.StatusBadRequest},
		{"n not a number", Deps{Logs: upload.NewMemorySink(0)}, "/logs?n=ten", http.StatusBadRequest},
		{"backend down", Deps{Logs: failingLister{}}, "/logs", http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(tc.deps)
			w := httptest.NewRecorder()
			h.HandleLogs(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(Deps{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Server ----------

func TestServerMux_Routes(t *testing.T) {
	srv := NewServer(":0", Deps{
		Doorbell: &fakeDoorbell{},
		Preview:  NewPreview(nil, StaticFS()),
		Logs:     upload.NewMemorySink(0),
	})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/preview", http.StatusOK},
		{http.MethodGet, "/logs", http.StatusOK},
		{http.MethodGet, "/static/avatar.svg", http.StatusOK},
		{http.MethodPost, "/ring", http.StatusAccepted},
		{http.MethodPost, "/ring", http.StatusConflict},
		{http.MethodGet, "/ring", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestHandleStatusStream(t *testing.T) {
	b := NewStatusBroadcaster()
	h := newTestHandlers(Deps{Broadcaster: b})
	ts := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	line, _ := rd.ReadString('\n')
	if !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(KindState, "live", "Capturing")

	for {
		line, err = rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Kind != KindState || evt.Msg != "Capturing" {
		t.Errorf("event = %+v", evt)
	}
}
