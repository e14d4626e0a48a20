package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/esignature/internal/api/handlers"
	"github.com/nikhilbhutani/esignature/internal/api/middleware"
	"github.com/nikhilbhutani/esignature/internal/audit"
	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/document"
	"github.com/nikhilbhutani/esignature/internal/identity"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/signing"
	"github.com/nikhilbhutani/esignature/internal/signrequest"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Tokens    *auth.Tokens
	Users     auth.UserLookup
	Identity  *identity.Service
	Documents *document.Service
	Baselines *baseline.Service
	Requests  *signrequest.Service
	Signing   *signing.Service
	Audit     *audit.Service
	Webhooks  *webhook.Service
	Inbound   *webhook.Inbound

	Checks map[string]handlers.Check
	// Redis backs the rate limiter. Nil keeps buckets in process.
	Redis *redis.Client
	// FilesRoot is served under /uploads when the local backend is used.
	FilesRoot string
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	jwt  *auth.JWTMiddleware
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
		jwt:  auth.NewJWTMiddleware(deps.Tokens, deps.Users),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps
	maxUpload := rt.cfg.Server.MaxUploadBytes

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	if rt.cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(float64(rt.cfg.RateLimit.Refill), rt.cfg.RateLimit.Capacity, d.Redis)
		r.Use(rl.Limit)
	}

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(d.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	if d.FilesRoot != "" {
		r.Handle("/uploads/*", handlers.FileServer("/uploads/", d.FilesRoot))
	}

	verifyH := handlers.NewVerifyHandler(d.Documents)
	r.Get("/verify/{id}", verifyH.Redirect)

	authH := handlers.NewAuthHandler(d.Identity)
	adminH := handlers.NewAdminHandler(d.Identity)
	docH := handlers.NewDocumentHandler(d.Documents, d.Signing, maxUpload)
	reqH := handlers.NewRequestHandler(d.Requests)
	baselineH := handlers.NewBaselineHandler(d.Baselines, maxUpload)
	logH := handlers.NewLogHandler(d.Audit)
	webhookH := handlers.NewWebhookHandler(d.Webhooks, d.Inbound)
	adminOnly := auth.RequireRole(models.RoleAdmin)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.Register)
			r.Post("/register-admin", authH.RegisterAdmin)
			r.Post("/login", authH.Login)

			r.Group(func(r chi.Router) {
				r.Use(rt.jwt.Authenticate)
				r.Get("/profile", authH.Profile)
				r.Put("/name", authH.UpdateName)

				r.Group(func(r chi.Router) {
					r.Use(adminOnly)
					r.Post("/create-admin", adminH.CreateAdmin)
					r.Get("/admin/pending", adminH.Pending)
					r.Put("/admin/approve/{id}", adminH.Approve)
					r.Put("/admin/reject/{id}", adminH.Reject)
				})
			})
		})

		r.Route("/requests", func(r chi.Router) {
			// Target of the QR code
			r.Get("/public/{documentId}", reqH.Public)

			r.Group(func(r chi.Router) {
				r.Use(rt.jwt.Authenticate)
				r.Post("/", reqH.Create)
				r.Get("/incoming", reqH.Incoming)
				r.Get("/outgoing", reqH.Outgoing)
				r.Get("/history", reqH.History)
				r.Get("/{id}", reqH.Get)
				r.Get("/{id}/signature", reqH.Signature)
				r.Post("/{id}/approve", reqH.Approve)
				r.Post("/{id}/reject", reqH.Reject)
			})
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/signwell", webhookH.Signwell)

			r.Group(func(r chi.Router) {
				r.Use(rt.jwt.Authenticate)
				r.Post("/", webhookH.Create)
				r.Get("/", webhookH.List)
				r.Delete("/{id}", webhookH.Delete)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.jwt.Authenticate)

			r.Get("/users/search", authH.SearchUsers)

			r.Route("/documents", func(r chi.Router) {
				r.Get("/", docH.List)
				r.Post("/upload", docH.Upload)
				r.Post("/sign-externally", docH.SignExternally)
				r.Get("/{id}", docH.Get)
				r.Post("/{id}/apply-signature", docH.ApplySignature)
			})

			r.Route("/baselines", func(r chi.Router) {
				r.Get("/", baselineH.List)
				r.Post("/upload", baselineH.Add)
				r.Get("/{id}", baselineH.Get)
				r.Put("/{id}", baselineH.Update)
			})

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", logH.Own)
				r.With(adminOnly).Get("/all", logH.All)
			})
		})
	})

	return r
}
