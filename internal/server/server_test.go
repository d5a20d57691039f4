/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/logbuffer"
	"github.com/friendsincode/nocturne/internal/playlist"
)

type fakePlayer struct {
	mu     sync.Mutex
	calls  []string
	err    error
	status controller.Status
}

func (p *fakePlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.err
}

func (p *fakePlayer) Play(context.Context) error     { return p.record("play") }
func (p *fakePlayer) Next(context.Context) error     { return p.record("next") }
func (p *fakePlayer) Previous(context.Context) error { return p.record("previous") }
func (p *fakePlayer) Pause(context.Context) error    { return p.record("pause") }
func (p *fakePlayer) Resume(context.Context) error   { return p.record("resume") }
func (p *fakePlayer) Stop(context.Context) error     { return p.record("stop") }
func (p *fakePlayer) StopOverlay(context.Context) error {
	return p.record("stop_overlay")
}
func (p *fakePlayer) Jump(_ context.Context, index int) error {
	return p.record(fmt.Sprintf("jump:%d", index))
}
func (p *fakePlayer) SetRepeat(_ context.Context, mode playlist.RepeatMode, count int) error {
	return p.record(fmt.Sprintf("repeat:%s:%d", mode, count))
}
func (p *fakePlayer) SetOverlayGain(_ context.Context, gain float64) error {
	return p.record(fmt.Sprintf("gain:%.2f", gain))
}
func (p *fakePlayer) Status() controller.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) lastCall() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return ""
	}
	return p.calls[len(p.calls)-1]
}

func newTestServer(t *testing.T, player *fakePlayer, bus *events.Bus, logs *logbuffer.Buffer) *httptest.Server {
	t.Helper()
	srv := New(Options{Player: player, Bus: bus, LogBuffer: logs}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestStatus(t *testing.T) {
	track := playlist.Track{ID: "rain", Path: "/music/rain.wav", Title: "Rain", Duration: 30 * time.Second}
	player := &fakePlayer{status: controller.Status{
		Mode:       coordinator.ModePlaying,
		Track:      &track,
		Index:      1,
		Position:   12 * time.Second,
		Tracks:     4,
		RepeatMode: playlist.RepeatPlaylist,
		Crossfade: crossfade.Status{
			State:   crossfade.StateFading,
			Session: &crossfade.Session{ID: "xf-1", To: track, Progress: 0.25, TotalDuration: 8 * time.Second},
		},
	}}
	ts := newTestServer(t, player, nil, nil)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "playing" || body.Index != 1 || body.PositionMS != 12000 {
		t.Errorf("body = %+v", body)
	}
	if body.Track == nil || body.Track.ID != "rain" {
		t.Errorf("Track = %+v, want rain", body.Track)
	}
	if body.Crossfade.State != "fading" || body.Crossfade.Progress != 0.25 || body.Crossfade.DurationMS != 8000 {
		t.Errorf("Crossfade = %+v", body.Crossfade)
	}
	if body.Repeat.Mode != "playlist" {
		t.Errorf("Repeat.Mode = %s, want playlist", body.Repeat.Mode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS on plain HTTP, got %q", got)
	}
}

func TestControlRoutes(t *testing.T) {
	player := &fakePlayer{}
	ts := newTestServer(t, player, nil, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   string
	}{
		{http.MethodPost, "/api/v1/play", "", "play"},
		{http.MethodPost, "/api/v1/next", "", "next"},
		{http.MethodPost, "/api/v1/previous", "", "previous"},
		{http.MethodPost, "/api/v1/pause", "", "pause"},
		{http.MethodPost, "/api/v1/resume", "", "resume"},
		{http.MethodPost, "/api/v1/stop", "", "stop"},
		{http.MethodPost, "/api/v1/jump/3", "", "jump:3"},
		{http.MethodPost, "/api/v1/repeat", `{"mode":"playlist","count":2}`, "repeat:playlist:2"},
		{http.MethodPost, "/api/v1/overlay/gain", `{"gain":0.25}`, "gain:0.25"},
		{http.MethodDelete, "/api/v1/overlay", "", "stop_overlay"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status code = %d, want 200", resp.StatusCode)
			}
			if got := player.lastCall(); got != tt.want {
				t.Errorf("call = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestControlErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		path string
		code int
		want string
	}{
		{"queue full", fmt.Errorf("%w: next", controller.ErrQueueFull), "/api/v1/next", http.StatusTooManyRequests, "queue_full"},
		{"out of range", fmt.Errorf("jump 9: %w", playlist.ErrIndexOutOfRange), "/api/v1/jump/9", http.StatusBadRequest, "index_out_of_range"},
		{"load failed", fmt.Errorf("%w: corrupt", crossfade.ErrFileLoadFailed), "/api/v1/jump/1", http.StatusUnprocessableEntity, "file_load_failed"},
		{"end", controller.ErrEndOfPlaylist, "/api/v1/next", http.StatusConflict, "end_of_playlist"},
		{"stopped", controller.ErrStopped, "/api/v1/pause", http.StatusServiceUnavailable, "controller_stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakePlayer{err: tt.err}, nil, nil)
			resp, err := http.Post(ts.URL+tt.path, "application/json", nil)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.code)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	player := &fakePlayer{}
	ts := newTestServer(t, player, nil, nil)

	for _, tc := range []struct{ path, body string }{
		{"/api/v1/jump/abc", ""},
		{"/api/v1/repeat", `{"mode":"sometimes"}`},
		{"/api/v1/repeat", `not json`},
		{"/api/v1/overlay/gain", `{`},
	} {
		resp, err := http.Post(ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("post %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %q status = %d, want 400", tc.path, tc.body, resp.StatusCode)
		}
	}
	if got := player.lastCall(); got != "" {
		t.Errorf("player called with %q on bad request", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakePlayer{}, nil, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["status"] != "ok" || body["state"] != "stopped" {
		t.Errorf("healthz = %v", body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestLogsEndpoint(t *testing.T) {
	logs := logbuffer.New(10)
	logs.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "info", Message: "crossfade started", Component: "crossfade"})
	logs.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "warn", Message: "track skipped", Component: "controller"})
	ts := newTestServer(t, &fakePlayer{}, nil, logs)

	resp, err := http.Get(ts.URL + "/api/v1/logs?level=warn")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Entries []logbuffer.LogEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Message != "track skipped" {
		t.Errorf("entries = %+v", body.Entries)
	}
}

func TestLogsAndHistoryDisabledWithoutBackends(t *testing.T) {
	ts := newTestServer(t, &fakePlayer{}, nil, nil)
	for _, path := range []string{"/api/v1/logs", "/api/v1/history"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestEventStream(t *testing.T) {
	bus := events.NewBus()
	ts := newTestServer(t, &fakePlayer{}, bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?types=track.changed"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The server subscribes after the handshake; keep publishing until the
	// first message arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.EventCrossfadeProgress, events.Payload{"progress": 0.5})
				bus.Publish(events.EventTrackChanged, events.Payload{"track": "b"})
			}
		}
	}()

	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(events.EventTrackChanged) {
		t.Errorf("Type = %q, want filtered to track.changed", msg.Type)
	}
	if msg.Payload["track"] != "b" {
		t.Errorf("payload track = %v, want b", msg.Payload["track"])
	}
}
