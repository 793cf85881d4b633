package annotator

import (
	"context"
	_ "embed" // annotate page
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/metrics"
)

const (
	urlPathPlaceholder = "@URL_PATH@"
	maxBodyBytes       = 1 << 20
	requestTimeout     = 30 * time.Second
)

//go:embed web/annotate.html
var defaultTemplate string

var (
	validStudent = regexp.MustCompile(`^[0-9]+$`)
	validPost    = regexp.MustCompile(`^[0-9]$`)
)

// Config controls the annotation server.
type Config struct {
	// PostsDir holds one Post<n> directory per archived field.
	PostsDir string
	// TemplatePath overrides the built-in annotate page. It is read on every
	// request so it can be edited while the server runs.
	TemplatePath string
}

// Server wires the annotation routes to a Store.
type Server struct {
	router chi.Router
	store  *Store
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store *Store, cfg Config, logger *zap.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("annotation store is required")
	}
	if cfg.PostsDir == "" {
		return nil, errors.New("posts directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, cfg: cfg, logger: logger}
	metrics.SetAnnotatedURIs(store.URIs())

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	// Annotation clients append their own paths to the store prefix.
	r.HandleFunc("/annotator", s.annotations)
	r.HandleFunc("/annotator/*", s.annotations)

	r.Get("/read/{student}/{post}", s.readPost)
	r.Get("/annotate/{student}/{post}", s.annotatePost)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type annotationMessage struct {
	URI    *string         `json:"uri"`
	Ranges json.RawMessage `json:"ranges"`
}

func (s *Server) annotations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAnnotations(w, r)
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		s.changeAnnotation(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unsupported method")
	}
}

// listAnnotations handles GET /annotator?uri=. Unknown documents yield an
// empty row set.
func (s *Server) listAnnotations(w http.ResponseWriter, r *http.Request) {
	rows := s.store.Rows(r.URL.Query().Get("uri"))
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// changeAnnotation handles POST/PUT (store) and DELETE (remove). The reply is
// an empty JSON object once the database file has been rewritten.
func (s *Server) changeAnnotation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	var msg annotationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg.URI == nil {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	key, err := RangesKey(msg.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ranges")
		return
	}

	log := s.logger.With(zap.String("method", r.Method), zap.String("uri", *msg.URI), zap.String("ranges", key))
	if r.Method == http.MethodDelete {
		err = s.store.Delete(*msg.URI, key)
	} else {
		err = s.store.Put(*msg.URI, key, body)
	}
	if err != nil {
		log.Error("annotation change failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save annotations")
		return
	}
	metrics.SetAnnotatedURIs(s.store.URIs())
	log.Info("annotation changed")
	writeJSON(w, http.StatusOK, struct{}{})
}

func postParams(r *http.Request) (string, string, error) {
	student := chi.URLParam(r, "student")
	post := chi.URLParam(r, "post")
	if !validStudent.MatchString(student) {
		return "", "", errors.New("invalid student id")
	}
	if !validPost.MatchString(post) {
		return "", "", errors.New("invalid post number")
	}
	return student, post, nil
}

// readPost handles GET /read/{student}/{post}.
func (s *Server) readPost(w http.ResponseWriter, r *http.Request) {
	student, post, err := postParams(r)
	if err != nil {
		s.logger.Warn("rejecting post request", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path := filepath.Join(s.cfg.PostsDir, "Post"+post, "s"+student+".html")
	// #nosec G304 -- path components are validated as digits above.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.logger.Error("read post failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read post")
		return
	}
	writeHTML(w, s.logger, data)
}

// annotatePost handles GET /annotate/{student}/{post}.
func (s *Server) annotatePost(w http.ResponseWriter, r *http.Request) {
	student, post, err := postParams(r)
	if err != nil {
		s.logger.Warn("rejecting annotate request", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.template()
	if err != nil {
		s.logger.Error("load annotate template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return
	}
	page = strings.ReplaceAll(page, urlPathPlaceholder, "/read/"+student+"/"+post)
	writeHTML(w, s.logger, []byte(page))
}

func (s *Server) template() (string, error) {
	if s.cfg.TemplatePath == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(s.cfg.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}

// ReachableAddrs lists the URLs the server can be reached at on every
// non-loopback IPv4 interface address.
func ReachableAddrs(ctx context.Context, port int) ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	var out []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		host := ipNet.IP.String()
		lookupCtx, cancel := context.WithTimeout(ctx, time.Second)
		names, err := net.DefaultResolver.LookupAddr(lookupCtx, host)
		cancel()
		if err != nil || len(names) == 0 {
			names = []string{host}
		}
		for _, name := range names {
			out = append(out, fmt.Sprintf("http://%s:%d/", strings.TrimSuffix(name, "."), port))
		}
	}
	return out, nil
}

type requestIDKey struct{}

// RequestID returns the request ID assigned by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeHTML(w http.ResponseWriter, logger *zap.Logger, data []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn("write page failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
