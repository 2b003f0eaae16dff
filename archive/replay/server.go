// Package replay serves an archived project back over HTTP/1.1, rewriting
// links so a browser can navigate the archive as if it were live, and
// exposes the small set of JSON APIs the "not in archive" page uses to
// trigger on-demand downloads.
package replay

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/crystal-web-archiver/crystal/archive/doc"
	"github.com/crystal-web-archiver/crystal/archive/download"
	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/project"
	"github.com/crystal-web-archiver/crystal/archive/scheduler"
	"github.com/crystal-web-archiver/crystal/core/access"
	"github.com/crystal-web-archiver/crystal/core/logger"
	"github.com/crystal-web-archiver/crystal/core/schema"
)

// Server is the replay HTTP server for one open project. It holds no
// request-scoped state; every field here is shared read-only (or
// internally synchronized, like the scheduler and progress registry)
// across concurrently served requests.
type Server struct {
	Project   *project.Project
	Scheduler *scheduler.Scheduler
	Fetcher   *download.Fetcher
	Extractor scheduler.LinkExtractor

	router    *mux.Router
	progress  *progressRegistry
	validator *schema.Validator
}

// New builds a Server and its route table. Handler() returns the
// http.Handler to pass to http.Serve or httptest.
func New(p *project.Project, sched *scheduler.Scheduler, fetcher *download.Fetcher) (*Server, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		Project:   p,
		Scheduler: sched,
		Fetcher:   fetcher,
		Extractor: doc.HTMLExtractor{},
		progress:  newProgressRegistry(),
		validator: validator,
	}
	s.router = mux.NewRouter()
	s.routes()
	return s, nil
}

// Handler returns the fully wired http.Handler for this server, with
// access-log and CORS middleware applied, matching the teacher's
// Backend.Router() composition.
func (s *Server) Handler() http.Handler {
	return handlers.CombinedLoggingHandler(logLineWriter{}, s.router)
}

// Router exposes the underlying mux.Router for tests that want to drive it
// through testclient without the access-log wrapper.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	logger.AddRequestID(s.router)
	s.router.Use(access.Middleware(access.Mode{ReadOnly: s.Project.ReadOnly()}))
	s.handleCORS()

	s.router.HandleFunc("/_/crystal/resources/{name}", s.handleStaticAsset).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/_/crystal/pin_date.js", s.handlePinDateScript).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/_/crystal/download-progress", s.handleDownloadProgress).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/_/crystal/download-url", s.handleDownloadURL).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/_/crystal/create-group", s.handleCreateGroup).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/_/crystal/preview-urls", s.handlePreviewURLs).Methods(http.MethodPost, http.MethodOptions)

	s.router.PathPrefix("/_/").HandlerFunc(s.handleArchiveURL).Methods(http.MethodGet, http.MethodOptions)
	s.router.PathPrefix("/").HandlerFunc(s.handleWelcome).Methods(http.MethodGet, http.MethodOptions)
}

func (s *Server) handleCORS() {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-None-Match")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
	s.router.Use(corsMiddleware)
}

// aliases is a small convenience wrapper so handlers don't repeat the
// error-ignoring pattern: an unreadable alias table degrades to "no
// aliases" rather than failing every request.
func (s *Server) aliases() []*model.Alias {
	all, err := s.Project.Model.Aliases()
	if err != nil {
		logger.Default().WithError(err).Warnln("cannot load aliases")
		return nil
	}
	return all
}

// logLineWriter adapts logger.Default() to the io.Writer
// handlers.CombinedLoggingHandler wants for its access log line.
type logLineWriter struct{}

func (logLineWriter) Write(p []byte) (int, error) {
	logger.Default().Infoln(string(p))
	return len(p), nil
}
