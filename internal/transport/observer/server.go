package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelresidency.ai/internal/observerproto"
	"voxelresidency.ai/internal/sim/world"
)

const maxEveryTicks = 10000

type Server struct {
	world *world.World
	log   *log.Logger

	// defaultEvery is the push cadence when SUBSCRIBE leaves every_ticks at 0.
	defaultEvery int

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, statsEveryTicks int) *Server {
	if statsEveryTicks <= 0 {
		statsEveryTicks = 20
	}
	return &Server{
		world:        w,
		log:          logger,
		defaultEvery: statsEveryTicks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		every := make(chan int, 1)
		every <- s.normalizeEvery(sub.EveryTicks)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.pushStats(ctx, conn, every)
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case <-every:
			default:
			}
			every <- s.normalizeEvery(sub.EveryTicks)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// pushStats sends a STATS message whenever the published tick has advanced by
// at least the current cadence. The first message goes out immediately.
func (s *Server) pushStats(ctx context.Context, conn *websocket.Conn, every <-chan int) error {
	hz := s.world.Config().TickRateHz
	if hz <= 0 {
		hz = 20
	}
	poll := time.NewTicker(time.Second / time.Duration(hz))
	defer poll.Stop()

	n := <-every
	var last uint64
	sent := false
	for {
		st := s.world.Stats()
		if !sent || st.Tick >= last+uint64(n) {
			b, err := json.Marshal(statsMsg(st))
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
			last = st.Tick
			sent = true
		}
		select {
		case <-ctx.Done():
			return nil
		case n = <-every:
		case <-poll.C:
		}
	}
}

func statsMsg(st *world.Stats) observerproto.StatsMsg {
	return observerproto.StatsMsg{
		Type:            observerproto.TypeStats,
		ProtocolVersion: observerproto.Version,
		WorldID:         st.WorldID,
		Tick:            st.Tick,
		NowMs:           st.NowMs,
		Loaded:          st.Loaded,
		Pending:         st.Pending,
		Watchers:        st.Watchers,
		GraceMs:         st.GraceMs,
		UnloadsTick:     st.UnloadsTick,
		LoadsTotal:      st.LoadsTotal,
		ResumesTotal:    st.ResumesTotal,
		UnloadsTotal:    st.UnloadsTotal,
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func (s *Server) normalizeEvery(n int) int {
	if n <= 0 {
		return s.defaultEvery
	}
	if n > maxEveryTicks {
		return maxEveryTicks
	}
	return n
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
