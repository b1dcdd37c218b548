package conversation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/handler/apierror"
	model "github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

// RunState 报告是否有多回合运行正在进行
type RunState interface {
	Running() bool
}

// Handler 对话服务的HTTP处理器
type Handler struct {
	service *convservice.Service
	runs    RunState
	logger  *zap.Logger
}

// New 创建对话处理器，runs 可为 nil
func New(service *convservice.Service, runs RunState, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		runs:    runs,
		logger:  logger.With(zap.String("component", "conversation_handler")),
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/current", h.handleCurrent)
	r.Post("/conversations", h.handleCreate)
	r.Delete("/conversations", h.handleClear)
	r.Get("/conversations/{conversationID}", h.handleGet)
	r.Post("/conversations/{conversationID}/next", h.handleNext)
}

// handleCurrent 返回当前活跃对话的快照
func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in model.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apierror.BadRequest(w, "invalid request body")
		return
	}

	conv, err := h.service.Create(r.Context(), in)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Lookup(r.Context(), id)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

// handleNext 推进一个回合。批量运行期间拒绝手动推进。
func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if h.runs != nil && h.runs.Running() {
		apierror.Respond(w, h.logger, driver.ErrAlreadyRunning)
		return
	}

	msg, err := h.service.AdvanceTurn(r.Context(), id)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if h.runs != nil && h.runs.Running() {
		apierror.Respond(w, h.logger, driver.ErrAlreadyRunning)
		return
	}
	if err := h.service.Clear(r.Context()); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || id <= 0 {
		apierror.BadRequest(w, "invalid conversation id")
		return 0, false
	}
	return id, true
}
