package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/magnus-im/CertificateManager/internal/app"
	"github.com/magnus-im/CertificateManager/internal/metrics"
)

const (
	jsonBodyLimit        = 1 << 20 // 1 MB
	defaultUploadMaxSize = 10 << 20
)

// Options configures NewHandler.
type Options struct {
	AllowedOrigins string
	JWTSecret      string
	UploadMaxBytes int64
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	log       logrus.FieldLogger
	jwtSecret string
	uploadMax int64
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, m *metrics.Metrics, log logrus.FieldLogger, opts Options) http.Handler {
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = defaultUploadMaxSize
	}
	h := &Handler{
		svc:       svc,
		log:       log,
		jwtSecret: opts.JWTSecret,
		uploadMax: opts.UploadMaxBytes,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Metrics(m))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		// Upload: body limit is applied inside the handler from UPLOAD_MAX_BYTES.
		r.Post("/api/nfe/import", h.importDocument)

		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(jsonBodyLimit))

			// ── Issuance queue ────────────────────────────────────────────────
			r.Get("/api/nfe/queue", h.listQueue)
			r.Post("/api/nfe/mapping", h.resolveMapping)
			r.Post("/api/nfe/queue/auto-issue", h.autoIssueAll)
			r.Post("/api/nfe/queue/{id}/unlink", h.unlinkEntry)
			r.Delete("/api/nfe/queue/{id}", h.deleteEntry)
			r.Get("/api/nfe/queue/{id}/lots", h.listEligibleLots)
			r.Post("/api/nfe/queue/{id}/issue", h.issueManual)
			r.Post("/api/nfe/queue/{id}/auto-issue", h.autoIssue)
			r.Get("/api/nfe/queue/{id}/suggestion", h.suggestMapping)

			// ── Lots and catalog ──────────────────────────────────────────────
			r.Get("/api/entry-certificates/{id}/balance", h.lotBalance)
			r.Get("/api/products", h.listProducts)
		})
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// pathID parses the {id} URL parameter. It writes a 400 and returns false when
// the value is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id: "+chi.URLParam(r, "id"), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
