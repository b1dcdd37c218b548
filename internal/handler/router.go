package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	conversationhandler "github.com/zhouzirui/z-parley/backend/internal/handler/conversation"
	driverhandler "github.com/zhouzirui/z-parley/backend/internal/handler/driver"
	"github.com/zhouzirui/z-parley/backend/internal/handler/live"
	"github.com/zhouzirui/z-parley/backend/internal/handler/persona"
	"github.com/zhouzirui/z-parley/backend/internal/logging"
	"github.com/zhouzirui/z-parley/backend/internal/metrics"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	driverservice "github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/internal/store"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

// Dependencies 路由所需的服务
type Dependencies struct {
	// BaseContext 约束后台批量运行的生命周期
	BaseContext  context.Context
	Personas     store.PersonaStore
	Service      *convservice.Service
	Driver       *driverservice.Driver
	Recorder     *driverservice.Recorder
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	PollInterval time.Duration
	DefaultTurns int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(deps.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	personaHandler := persona.New(deps.Personas, logger)
	conversationHandler := conversationhandler.New(deps.Service, deps.Driver, logger)
	driverHandler := driverhandler.New(deps.BaseContext, deps.Driver, deps.Recorder, deps.DefaultTurns, logger)
	liveHandler := live.New(deps.Service.Snapshot, deps.PollInterval, logger)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		conversationHandler.RegisterRoutes(api)
		driverHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)
	})

	return r
}

// cors 允许浏览器前端跨域访问 API
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
