package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelresidency.ai/internal/observerproto"
	"voxelresidency.ai/internal/sim/world"
)

func startServer(t *testing.T, grace time.Duration) (*world.World, *httptest.Server) {
	t.Helper()
	w := world.New(world.WorldConfig{ID: "obs", TickRateHz: 100, UnloadDelay: grace}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	mux := http.NewServeMux()
	NewServer(w, log.New(io.Discard, "", 0), 1).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return w, srv
}

func waitStats(t *testing.T, w *world.World, cond func(*world.Stats) bool) *world.Stats {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := w.Stats(); cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached; last stats %+v", w.Stats())
	return nil
}

func TestWSSubscribeStreamsStats(t *testing.T) {
	_, srv := startServer(t, time.Second)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		EveryTicks:      2,
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var prev uint64
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg observerproto.StatsMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stats %d: %v", i, err)
		}
		if msg.Type != observerproto.TypeStats || msg.WorldID != "obs" || msg.GraceMs != 1000 {
			t.Fatalf("stats %d: got %+v", i, msg)
		}
		if i > 0 && msg.Tick < prev+2 {
			t.Fatalf("stats %d: tick %d pushed too early after %d", i, msg.Tick, prev)
		}
		prev = msg.Tick
	}
}

func TestWSRejectsMissingSubscribe(t *testing.T) {
	_, srv := startServer(t, time.Second)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestAdminWatcherLifecycleAndUnloadIdle(t *testing.T) {
	w, srv := startServer(t, time.Hour)

	body := `{"id":"op-1","cx":3,"cz":-2}`
	resp, err := http.Post(srv.URL+"/admin/v1/watchers", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post watcher: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post watcher status: got %d want 202", resp.StatusCode)
	}
	waitStats(t, w, func(st *world.Stats) bool { return st.Watchers == 1 && st.Loaded == 1 })

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/admin/v1/watchers?id=op-1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete watcher: %v", err)
	}
	resp.Body.Close()
	waitStats(t, w, func(st *world.Stats) bool { return st.Watchers == 0 && st.Pending == 1 })

	resp, err = http.Post(srv.URL+"/admin/v1/residency/unload_idle", "", nil)
	if err != nil {
		t.Fatalf("unload_idle: %v", err)
	}
	var res observerproto.UnloadIdleResponse
	_ = json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if res.Force || res.Unloaded != 0 || res.SkippedPending != 1 {
		t.Fatalf("unload_idle: got %+v", res)
	}

	resp, err = http.Post(srv.URL+"/admin/v1/residency/unload_idle?force=1", "", nil)
	if err != nil {
		t.Fatalf("unload_idle force: %v", err)
	}
	res = observerproto.UnloadIdleResponse{}
	_ = json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if !res.Force || res.Unloaded != 1 {
		t.Fatalf("unload_idle force: got %+v", res)
	}
	waitStats(t, w, func(st *world.Stats) bool { return st.Loaded+st.Pending == 0 })
}

func TestAdminGraceAndResidency(t *testing.T) {
	w, srv := startServer(t, time.Minute)

	resp, err := http.Post(srv.URL+"/admin/v1/residency/grace?ms=250", "", nil)
	if err != nil {
		t.Fatalf("grace: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("grace status: got %d want 202", resp.StatusCode)
	}
	waitStats(t, w, func(st *world.Stats) bool { return st.GraceMs == 250 })

	resp, err = http.Post(srv.URL+"/admin/v1/residency/grace?ms=abc", "", nil)
	if err != nil {
		t.Fatalf("grace bad: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad grace status: got %d want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/residency")
	if err != nil {
		t.Fatalf("residency: %v", err)
	}
	var st world.Stats
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.WorldID != "obs" || st.GraceMs != 250 {
		t.Fatalf("residency: got %+v", st)
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	w := world.New(world.WorldConfig{ID: "obs"}, nil)
	s := NewServer(w, log.New(io.Discard, "", 0), 0)

	r := httptest.NewRequest(http.MethodGet, "/admin/v1/residency", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	s.ResidencyHandler()(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote residency: got %d want 403", rec.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/admin/v1/residency/unload_idle", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	rec = httptest.NewRecorder()
	s.UnloadIdleHandler()(rec, r)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET unload_idle: got %d want 405", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"nonsense":     false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q): got %v want %v", in, got, want)
		}
	}
}

func chunkPending(t *testing.T, base string, cx, cz int) bool {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/admin/v1/residency?cx=%d&cz=%d", base, cx, cz))
	if err != nil {
		t.Fatalf("chunk residency: %v", err)
	}
	defer resp.Body.Close()
	var cr observerproto.ChunkResidencyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode chunk residency: %v", err)
	}
	if cr.CX != cx || cr.CZ != cz {
		t.Fatalf("chunk residency: got %+v want cx=%d cz=%d", cr, cx, cz)
	}
	return cr.Pending
}

func TestAdminBlockAccessAgesOut(t *testing.T) {
	w, srv := startServer(t, time.Second)

	resp, err := http.Post(srv.URL+"/admin/v1/blocks?x=3&z=4&b=9", "", nil)
	if err != nil {
		t.Fatalf("block write: %v", err)
	}
	var br observerproto.BlockResponse
	_ = json.NewDecoder(resp.Body).Decode(&br)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || br.X != 3 || br.Z != 4 || br.B != 9 {
		t.Fatalf("block write: status %d body %+v", resp.StatusCode, br)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/blocks?x=3&z=4")
	if err != nil {
		t.Fatalf("block read: %v", err)
	}
	br = observerproto.BlockResponse{}
	_ = json.NewDecoder(resp.Body).Decode(&br)
	resp.Body.Close()
	if br.B != 9 {
		t.Fatalf("block read while resident: got %d want 9", br.B)
	}

	waitStats(t, w, func(st *world.Stats) bool { return st.Pending == 1 })
	if !chunkPending(t, srv.URL, 0, 0) {
		t.Fatalf("chunk (0,0) should be pending after an unwatched block access")
	}

	waitStats(t, w, func(st *world.Stats) bool {
		return st.Loaded+st.Pending == 0 && st.UnloadsTotal == 1
	})
	if chunkPending(t, srv.URL, 0, 0) {
		t.Fatalf("unloaded chunk must not be reported pending")
	}
}

func TestAdminBlocksRejectsBadInput(t *testing.T) {
	_, srv := startServer(t, time.Second)

	for _, u := range []string{"/admin/v1/blocks?x=a&z=1", "/admin/v1/residency?cx=1"} {
		resp, err := http.Get(srv.URL + u)
		if err != nil {
			t.Fatalf("get %s: %v", u, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("get %s: got %d want 400", u, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/admin/v1/blocks?x=1&z=1&b=70000", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range block: got %d want 400", resp.StatusCode)
	}
}
