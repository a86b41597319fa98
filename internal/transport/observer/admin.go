package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voxelresidency.ai/internal/observerproto"
	"voxelresidency.ai/internal/sim/world"
	"voxelresidency.ai/internal/sim/world/terrain/store"
)

// Register mounts the local-only residency admin endpoints and the observer WS.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/residency", s.ResidencyHandler())
	mux.HandleFunc("/admin/v1/residency/unload_idle", s.UnloadIdleHandler())
	mux.HandleFunc("/admin/v1/residency/grace", s.GraceHandler())
	mux.HandleFunc("/admin/v1/watchers", s.WatchersHandler())
	mux.HandleFunc("/admin/v1/blocks", s.BlocksHandler())
	mux.HandleFunc("/v1/observer/ws", s.WSHandler())
}

func (s *Server) ResidencyHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		q := r.URL.Query()
		if q.Has("cx") || q.Has("cz") {
			cx, errX := strconv.Atoi(strings.TrimSpace(q.Get("cx")))
			cz, errZ := strconv.Atoi(strings.TrimSpace(q.Get("cz")))
			if errX != nil || errZ != nil {
				writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "bad cx/cz"})
				return
			}
			writeJSON(rw, http.StatusOK, observerproto.ChunkResidencyResponse{
				Tick:    s.world.CurrentTick(),
				CX:      cx,
				CZ:      cz,
				Pending: s.world.IsPendingUnload(store.ChunkKey{CX: cx, CZ: cz}),
			})
			return
		}
		writeJSON(rw, http.StatusOK, s.world.Stats())
	}
}

// BlocksHandler reads (GET) or writes (POST with b=) one block. The access loads
// the owning chunk and counts as a use, so an unwatched chunk ages out afterwards.
func (s *Server) BlocksHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		q := r.URL.Query()
		x, errX := strconv.Atoi(strings.TrimSpace(q.Get("x")))
		z, errZ := strconv.Atoi(strings.TrimSpace(q.Get("z")))
		if errX != nil || errZ != nil {
			writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "bad x/z"})
			return
		}
		req := world.BlockRequest{X: x, Z: z, Resp: make(chan uint16, 1)}
		if r.Method == http.MethodPost {
			b, err := strconv.ParseUint(strings.TrimSpace(q.Get("b")), 10, 16)
			if err != nil {
				writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "bad b"})
				return
			}
			req.Set = true
			req.B = uint16(b)
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		select {
		case s.world.BlockAccess() <- req:
		case <-ctx.Done():
			writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: "world busy"})
			return
		}
		select {
		case b := <-req.Resp:
			writeJSON(rw, http.StatusOK, observerproto.BlockResponse{X: x, Z: z, B: b})
		case <-ctx.Done():
			writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: ctx.Err().Error()})
		}
	}
}

func (s *Server) UnloadIdleHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		force := parseBool(r.URL.Query().Get("force"))

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp := make(chan world.UnloadIdleResult, 1)
		select {
		case s.world.AdminUnload() <- world.UnloadIdleRequest{Force: force, Resp: resp}:
		case <-ctx.Done():
			writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: "world busy"})
			return
		}
		select {
		case res := <-resp:
			s.log.Printf("admin unload_idle force=%v unloaded=%d", force, res.Unloaded)
			writeJSON(rw, http.StatusOK, observerproto.UnloadIdleResponse{
				Force:          force,
				Unloaded:       res.Unloaded,
				SkippedWatched: res.SkippedWatched,
				SkippedPending: res.SkippedPending,
			})
		case <-ctx.Done():
			writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: ctx.Err().Error()})
		}
	}
}

func (s *Server) GraceHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("ms")), 10, 64)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "bad ms"})
			return
		}
		if ms < 0 {
			ms = 0
		}
		select {
		case s.world.GraceUpdates() <- time.Duration(ms) * time.Millisecond:
		default:
			writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: "world busy"})
			return
		}
		s.log.Printf("admin grace change queued: %dms", ms)
		writeJSON(rw, http.StatusAccepted, observerproto.GraceResponse{Queued: true, GraceMs: ms})
	}
}

func (s *Server) WatchersHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodPost:
			var req observerproto.WatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
				writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "bad watch request"})
				return
			}
			select {
			case s.world.WatchUpdates() <- world.WatchRequest{
				ID:        strings.TrimSpace(req.ID),
				CX:        req.CX,
				CZ:        req.CZ,
				Radius:    req.Radius,
				MaxChunks: req.MaxChunks,
			}:
			default:
				writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: "world busy"})
				return
			}
			rw.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			id := strings.TrimSpace(r.URL.Query().Get("id"))
			if id == "" {
				writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Error: "missing id"})
				return
			}
			select {
			case s.world.WatchLeave() <- id:
			default:
				writeJSON(rw, http.StatusServiceUnavailable, observerproto.ErrorResponse{Error: "world busy"})
				return
			}
			rw.WriteHeader(http.StatusAccepted)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
