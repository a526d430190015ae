package api

import (
	"net/http"

	"scangate/internal/config"
	sgmiddleware "scangate/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, uploadHandler *UploadHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(sgmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(sgmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(sgmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	if uploadHandler != nil {
		// 已发布文件对外公开，不需要鉴权
		r.Get("/public/{fileName}", uploadHandler.ServePublicFile)

		r.Route("/api", func(r chi.Router) {
			if cfg.AuthEnabled {
				switch cfg.AuthDriver {
				case "jwt":
					r.Use(sgmiddleware.JWTAuth(cfg.JWKSURL, cfg.JWTSecret))
				default:
					r.Use(sgmiddleware.APIKeyAuth(cfg.APIKeys))
				}
			}
			uploadHandler.RegisterRoutes(r)
		})
	}

	return r
}
