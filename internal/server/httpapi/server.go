// Package httpapi exposes the upload queue and the committed files over
// JSON/HTTP with bearer JWT authentication.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/queue"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Queues hands out the caller's upload queue.
type Queues interface {
	Get(ctx context.Context, user models.User) (*queue.Queue, error)
	Refresh(ctx context.Context, userID string) error
}

// Files is the committed-file surface.
type Files interface {
	List(ctx context.Context, userID string) ([]*models.File, error)
	DownloadURL(ctx context.Context, id, userID string) (string, error)
	Content(ctx context.Context, id, userID string) (*models.File, []byte, error)
	Delete(ctx context.Context, id, userID string) error
	History(ctx context.Context, userID string, limit int) ([]*models.UploadHistory, error)
	WebhookResponses(ctx context.Context, fileID, userID string) ([]*models.WebhookResponse, error)
}

type Options struct {
	SecretKey []byte
	// MaxFileSize bounds a single multipart part; the request body may carry
	// several.
	MaxFileSize    int64
	MaxRequestSize int64
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type Server struct {
	queues   Queues
	files    Files
	opts     Options
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewServer(queues Queues, files Files, opts Options, logger logging.Logger) *Server {
	if opts.MaxRequestSize <= 0 {
		opts.MaxRequestSize = 4 * opts.MaxFileSize
	}
	s := &Server{
		queues: queues,
		files:  files,
		opts:   opts,
		logger: logger.With("module", "httpapi"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests, s.authenticate)

	api.HandleFunc("/uploads", s.enqueue).Methods(http.MethodPost)
	api.HandleFunc("/uploads", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/uploads/events", s.events).Methods(http.MethodGet)
	api.HandleFunc("/uploads/start-all", s.startAll).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}/start", s.start).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}/retry", s.retry).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}/cancel", s.cancel).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}", s.removeTask).Methods(http.MethodDelete)

	api.HandleFunc("/files", s.listFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}/download", s.download).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}/content", s.content).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}/webhooks", s.webhooks).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}", s.deleteFile).Methods(http.MethodDelete)

	api.HandleFunc("/history", s.history).Methods(http.MethodGet)
	api.HandleFunc("/session", s.session).Methods(http.MethodGet)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
