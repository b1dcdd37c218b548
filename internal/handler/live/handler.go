// Package live pushes conversation snapshots to browsers over SSE or
// websocket whenever the current conversation changes.
package live

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	driverservice "github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Handler 实时快照推送处理器
type Handler struct {
	fetch    driverservice.FetchFunc
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建处理器，interval 为轮询间隔
func New(fetch driverservice.FetchFunc, interval time.Duration, logger *zap.Logger) *Handler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		fetch:    fetch,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With(zap.String("component", "live")),
	}
}

// RegisterRoutes 注册实时推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/current/stream", h.handleStream)
	r.Get("/conversations/current/ws", h.handleWebSocket)
}

// Event 推送给客户端的消息
type Event struct {
	Type      string                 `json:"type"`
	Snapshot  *conversation.Snapshot `json:"snapshot,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func (h *Handler) watch(ctx context.Context, send func(Event) error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cache := driverservice.NewSnapshotCache(h.fetch, h.interval)
	_ = cache.Watch(ctx, h.interval, func(snap conversation.Snapshot) {
		if err := send(Event{Type: "snapshot", Snapshot: &snap, Timestamp: time.Now().Unix()}); err != nil {
			cancel()
		}
	}, func(err error) {
		h.logger.Warn("snapshot poll failed", zap.Error(err))
		if sendErr := send(Event{Type: "error", Error: "failed to load conversation", Timestamp: time.Now().Unix()}); sendErr != nil {
			cancel()
		}
	})
}

// handleStream 通过 SSE 推送快照
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("sse stream opened", zap.String("remote_addr", r.RemoteAddr))
	h.watch(r.Context(), func(ev Event) error {
		return utils.SendSSEEvent(w, flusher, ev.Type, ev)
	})
	h.logger.Debug("sse stream closed", zap.String("remote_addr", r.RemoteAddr))
}

// handleWebSocket 通过 websocket 推送快照
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 客户端只读；读循环用于处理控制帧并感知断开。
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	writes := make(chan Event)
	go func() {
		defer close(writes)
		h.watch(ctx, func(ev Event) error {
			select {
			case writes <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-writes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
