package driver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/handler/apierror"
	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
	driverservice "github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

// Handler 批量运行的HTTP处理器
type Handler struct {
	driver       *driverservice.Driver
	recorder     *driverservice.Recorder
	baseCtx      context.Context
	defaultTurns int
	logger       *zap.Logger
}

// New 创建处理器。后台运行绑定 baseCtx，而不是请求的 context。
func New(baseCtx context.Context, d *driverservice.Driver, recorder *driverservice.Recorder, defaultTurns int, logger *zap.Logger) *Handler {
	if defaultTurns <= 0 {
		defaultTurns = conversation.DefaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		driver:       d,
		recorder:     recorder,
		baseCtx:      baseCtx,
		defaultTurns: defaultTurns,
		logger:       logger.With(zap.String("component", "driver_handler")),
	}
}

// RegisterRoutes 注册批量运行相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations/current/run", h.handleRun)
	r.Get("/driver", h.handleStatus)
}

// StatusResponse 运行状态
type StatusResponse struct {
	Running       bool                         `json:"running"`
	Notifications []driverservice.Notification `json:"notifications"`
}

type runRequest struct {
	Turns int `json:"turns"`
}

// handleRun 在后台启动批量运行，立即返回 202。
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierror.BadRequest(w, "invalid request body")
		return
	}
	if req.Turns == 0 {
		req.Turns = h.defaultTurns
	}
	if req.Turns < 1 || req.Turns > conversation.MaxTurnsLimit {
		verr := &validation.Error{}
		verr.Add("turns", "must be between 1 and 100")
		apierror.Respond(w, h.logger, verr)
		return
	}

	if _, err := h.driver.Start(h.baseCtx, req.Turns); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"running": true, "turns": req.Turns})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Running: h.driver.Running(), Notifications: []driverservice.Notification{}}
	if h.recorder != nil {
		resp.Notifications = h.recorder.List()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
