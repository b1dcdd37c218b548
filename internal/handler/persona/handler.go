package persona

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/handler/apierror"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/store"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas store.PersonaStore
	logger   *zap.Logger
}

// New 创建persona处理器
func New(personas store.PersonaStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		personas: personas,
		logger:   logger.With(zap.String("component", "persona_handler")),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)

	r.Route("/personas", func(r chi.Router) {
		r.Get("/", h.handleListPersonas)
		r.Post("/", h.handleCreatePersona)
		r.Delete("/", h.handleClearPersonas)
		r.Get("/{personaID}", h.handleGetPersona)
		r.Patch("/{personaID}", h.handleUpdatePersona)
		r.Delete("/{personaID}", h.handleDeletePersona)
	})
}

// handleListModels 列出可选模型
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, persona.Catalog())
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items, err := h.personas.ListPersonas(r.Context())
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	if items == nil {
		items = []persona.Persona{}
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}
	p, err := h.personas.GetPersona(r.Context(), id)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

// handleCreatePersona 创建persona，modelType 缺省为 gpt-4o
func (h *Handler) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var in persona.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apierror.BadRequest(w, "invalid request body")
		return
	}

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}

	created, err := h.personas.CreatePersona(r.Context(), in)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	h.logger.Info("persona created", zap.Int64("persona_id", created.ID), zap.String("model", string(created.ModelType)))
	utils.RespondJSON(w, http.StatusCreated, created)
}

// patchPayload 只更新请求中出现的字段
type patchPayload struct {
	Name       *string            `json:"name"`
	Background *string            `json:"background"`
	Goal       *string            `json:"goal"`
	ModelType  *persona.ModelType `json:"modelType"`
}

func (p patchPayload) merge(existing persona.Persona) persona.Input {
	in := persona.Input{
		Name:       existing.Name,
		Background: existing.Background,
		Goal:       existing.Goal,
		ModelType:  existing.ModelType,
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Background != nil {
		in.Background = *p.Background
	}
	if p.Goal != nil {
		in.Goal = *p.Goal
	}
	if p.ModelType != nil {
		in.ModelType = *p.ModelType
	}
	return in.Normalize()
}

func (h *Handler) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}

	var payload patchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierror.BadRequest(w, "invalid request body")
		return
	}

	existing, err := h.personas.GetPersona(r.Context(), id)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}

	in := payload.merge(existing)
	if err := in.Validate(); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}

	updated, err := h.personas.UpdatePersona(r.Context(), id, in)
	if err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}
	if err := h.personas.DeletePersona(r.Context(), id); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearPersonas(w http.ResponseWriter, r *http.Request) {
	if err := h.personas.ClearPersonas(r.Context()); err != nil {
		apierror.Respond(w, h.logger, err)
		return
	}
	h.logger.Info("personas cleared")
	w.WriteHeader(http.StatusNoContent)
}

func personaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "personaID"), 10, 64)
	if err != nil || id <= 0 {
		apierror.BadRequest(w, "invalid persona id")
		return 0, false
	}
	return id, true
}
