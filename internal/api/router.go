package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/middleware"
)

// NewRouter builds the pipeline's HTTP handler.
//
// Route table:
//
//	POST   /api/v1/documents                    → submit (multipart "file")
//	GET    /api/v1/documents/{id}               → document with chunks
//	GET    /api/v1/documents/{id}/status        → status only
//	POST   /api/v1/documents/{id}/reprocess     → reprocess
//	POST   /api/v1/documents/{id}/cancel        → cancel
//	POST   /api/v1/documents/{id}/embeddings    → embed chunks (?provider=&batch_size=)
//	GET    /api/v1/jobs/{id}                    → job
//	POST   /api/v1/search                       → similarity search
//	GET    /api/v1/search/cache/stats           → search cache hit ratio
//	POST   /api/v1/search/cache/invalidate      → drop cached results
//	GET    /health/live, /health/ready          → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Timeout → mux
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/v1/documents", h.SubmitDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}/status", h.GetStatus)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", h.Reprocess)
	mux.HandleFunc("POST /api/v1/documents/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/documents/{id}/embeddings", h.GenerateEmbeddings)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)

	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/search/cache/invalidate", h.InvalidateCache)

	var chain http.Handler = mux
	if timeout > 0 {
		chain = pkgmw.Timeout(timeout)(chain)
	}
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
