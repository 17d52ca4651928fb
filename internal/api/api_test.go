package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/stagehand/internal/audit"
	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/console"
	"github.com/friendsincode/stagehand/internal/db"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/logbuffer"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs/obstest"
	"github.com/friendsincode/stagehand/internal/room"
)

const testPassword = "pw"

type harness struct {
	srv     *httptest.Server
	obs     *obstest.Server
	bus     *events.Bus
	console *console.Console
	logs    *logbuffer.Buffer
	audit   *audit.Service
}

func newHarness(t *testing.T, scene string) *harness {
	t.Helper()

	fake := obstest.NewServer(testPassword)
	fake.Handle("GetSceneList", func(map[string]any) (map[string]any, error) {
		return map[string]any{
			"current-scene": scene,
			"scenes":        []map[string]any{{"name": "Panel"}, {"name": "Technician"}},
		}, nil
	})
	fake.Handle("GetCurrentScene", func(map[string]any) (map[string]any, error) {
		return map[string]any{"name": scene}, nil
	})
	fake.Handle("GetSourceSettings", func(map[string]any) (map[string]any, error) {
		return map[string]any{"sourceSettings": map[string]any{"input": "rtmp://ingest/live/old"}}, nil
	})
	fake.Handle("TakeSourceScreenshot", func(map[string]any) (map[string]any, error) {
		return map[string]any{"img": "data:image/png;base64,iVBORw0KGgo="}, nil
	})
	t.Cleanup(fake.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"streams":{"tech1":{"key":"tech1","live":true},"ev1":{"key":"ev1","live":true}}}`)
	})
	mux.HandleFunc("/api/stream_updates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	backends := httptest.NewServer(mux)
	t.Cleanup(backends.Close)

	bus := events.NewBus()
	c := console.New(console.Options{
		RoomSettings: console.RoomSettings{
			Password:            testPassword,
			RTMPBase:            "rtmp://ingest/live/",
			ReconnectDelay:      20 * time.Millisecond,
			ConfirmationTimeout: 5 * time.Second,
			Names:               room.Names{PanelScene: "Panel", FeedSource: "RTMP stream"},
		},
		TrackerURL: backends.URL,
		Rooms:      []config.Room{{Name: "Main", Endpoint: fake.Addr(), StreamKey: "main", TechStream: "tech1"}},
	}, bus, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("console start: %v", err)
	}
	t.Cleanup(c.Close)

	database, err := db.Open(config.DatabaseSQLite, "file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	auditSvc := audit.NewService(database, bus, zerolog.Nop())

	logs := logbuffer.New(16)

	router := chi.NewRouter()
	New(c, bus, auditSvc, logs, testPassword, zerolog.Nop()).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	h := &harness{srv: srv, obs: fake, bus: bus, console: c, logs: logs, audit: auditSvc}
	rc, _ := c.Room("Main")
	h.waitFor(t, "room connected", func() bool { return rc.Supervisor().State().Connected() })
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(PasswordHeader, testPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, "Technician")

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"no password", "/api/rooms", "", http.StatusUnauthorized},
		{"wrong header", "/api/rooms", "nope", http.StatusUnauthorized},
		{"header", "/api/rooms", testPassword, http.StatusOK},
		{"query", "/api/rooms?password=" + testPassword, "", http.StatusOK},
		{"health is open", "/healthz", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, h.srv.URL+tc.url, nil)
			if tc.header != "" {
				req.Header.Set(PasswordHeader, tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestRoomEndpoints(t *testing.T) {
	h := newHarness(t, "Technician")

	resp, body := h.do(t, http.MethodGet, "/api/rooms/Main", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("room get = %d %s", resp.StatusCode, body)
	}
	var view console.RoomView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view.Name != "Main" || view.Connection.CurrentScene != "Technician" {
		t.Errorf("view = %+v", view)
	}

	if resp, _ := h.do(t, http.MethodGet, "/api/rooms/Nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown room = %d", resp.StatusCode)
	}

	if resp, body := h.do(t, http.MethodPost, "/api/rooms/Main/scene", map[string]string{"scene": "Panel"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("scene = %d %s", resp.StatusCode, body)
	}
	if got := h.obs.RequestsOf("SetCurrentScene"); len(got) != 1 || got[0].Args["scene-name"] != "Panel" {
		t.Errorf("SetCurrentScene = %+v", got)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/rooms/Main/scene", map[string]string{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty scene = %d", resp.StatusCode)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/rooms/Main/reboot/bogus", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown reboot source = %d", resp.StatusCode)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/rooms/Main/streaming/start", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("streaming start = %d", resp.StatusCode)
	}
	if len(h.obs.RequestsOf("StartStreaming")) != 1 {
		t.Error("StartStreaming not sent")
	}

	resp, body = h.do(t, http.MethodGet, "/api/rooms/Main/preview", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Errorf("preview = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestFeedSwitchConfirmationFlow(t *testing.T) {
	h := newHarness(t, "Panel")
	h.waitFor(t, "tracker ready", func() bool { return h.console.Tracker().Ready() })

	type result struct {
		status int
		body   []byte
	}
	first := make(chan result, 1)
	go func() {
		resp, body := h.do(t, http.MethodPost, "/api/rooms/Main/feed", map[string]string{"streamKey": "ev1"})
		first <- result{resp.StatusCode, body}
	}()

	rc, _ := h.console.Room("Main")
	h.waitFor(t, "pending confirmation", func() bool {
		_, ok := rc.PendingSwitch()
		return ok
	})

	resp, body := h.do(t, http.MethodPost, "/api/rooms/Main/feed", map[string]string{"streamKey": "tech1"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second switch = %d %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/rooms/Main/feed/pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending = %d", resp.StatusCode)
	}
	var pending struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &pending)
	if pending.ID == "" {
		t.Fatalf("pending body = %s", body)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/rooms/Main/feed/confirm", map[string]any{"id": "nope", "confirm": true}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("wrong id confirm = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/rooms/Main/feed/confirm", map[string]any{"id": pending.ID, "confirm": true}); resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm = %d", resp.StatusCode)
	}

	select {
	case res := <-first:
		if res.status != http.StatusOK || !strings.Contains(string(res.body), `"applied"`) {
			t.Errorf("first switch = %d %s", res.status, res.body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("feed switch did not return")
	}
	if len(h.obs.RequestsOf("SetSourceSettings")) != 1 {
		t.Error("feed not repointed")
	}
}

func TestMusicDisabled(t *testing.T) {
	h := newHarness(t, "Technician")
	resp, body := h.do(t, http.MethodPost, "/api/music/Main/play", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "music_not_configured") {
		t.Errorf("play = %d %s", resp.StatusCode, body)
	}
	if resp, _ := h.do(t, http.MethodDelete, "/api/music/Main/upnext/x", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad index = %d", resp.StatusCode)
	}
}

func TestStreamsAndLogs(t *testing.T) {
	h := newHarness(t, "Technician")
	h.waitFor(t, "tracker ready", func() bool { return h.console.Tracker().Ready() })

	resp, body := h.do(t, http.MethodGet, "/api/streams", nil)
	var streams struct {
		Streams []models.Stream `json:"streams"`
	}
	_ = json.Unmarshal(body, &streams)
	if resp.StatusCode != http.StatusOK || len(streams.Streams) != 2 || streams.Streams[0].Key != "ev1" {
		t.Errorf("streams = %d %s", resp.StatusCode, body)
	}

	h.logs.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "warn", Message: "lost socket", Room: "Main"})
	h.logs.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "info", Message: "hello"})
	resp, body = h.do(t, http.MethodGet, "/api/logs?level=warn", nil)
	var logs struct {
		Count int      `json:"count"`
		Rooms []string `json:"rooms"`
	}
	_ = json.Unmarshal(body, &logs)
	if resp.StatusCode != http.StatusOK || logs.Count != 1 || len(logs.Rooms) != 1 {
		t.Errorf("logs = %d %s", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodGet, "/api/schedule", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("schedule without feed = %d", resp.StatusCode)
	}
}

func TestAuditEndpoint(t *testing.T) {
	h := newHarness(t, "Technician")
	ctx := context.Background()
	_ = h.audit.Log(ctx, &models.AuditLog{Room: "Main", Action: models.AuditActionSceneSet, Outcome: "ok"})
	_ = h.audit.Log(ctx, &models.AuditLog{Room: "Other", Action: models.AuditActionSceneSet, Outcome: "ok"})

	resp, body := h.do(t, http.MethodGet, "/api/audit?room=Main", nil)
	var out struct {
		Total   int64             `json:"total"`
		Entries []models.AuditLog `json:"entries"`
	}
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK || out.Total != 1 || out.Entries[0].Room != "Main" {
		t.Errorf("audit = %d %s", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodGet, "/api/audit?since=yesterday", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since = %d", resp.StatusCode)
	}
}

func TestEventsWebsocketFilters(t *testing.T) {
	h := newHarness(t, "Technician")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/events?kind=operator.action&target=Main&password=" + testPassword
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The subscription is registered after the upgrade; publish until it lands.
	go func() {
		for ctx.Err() == nil {
			h.bus.Publish("Other", events.OperatorAction{Room: "Other", Action: models.AuditActionSceneSet, Outcome: "ok"})
			h.bus.Publish("Main", events.SceneChanged{Room: "Main", Scene: "Panel"})
			h.bus.Publish("Main", events.OperatorAction{Room: "Main", Action: models.AuditActionStreamingStart, Outcome: "ok"})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	var n events.Notification
	if err := wsjson.Read(ctx, conn, &n); err != nil {
		t.Fatalf("read: %v", err)
	}
	a, ok := n.Payload.(events.OperatorAction)
	if n.Kind != events.KindOperatorAction || n.Target != "Main" || !ok || a.Action != models.AuditActionStreamingStart {
		t.Errorf("notification = %+v", n)
	}
}
