package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hickeroar/storebayes/bayes"
	"github.com/hickeroar/storebayes/store"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MiB
	requestIDHeader     = "X-Request-Id"
	maxRequestIDLength  = 128
)

var categoryPathPattern = regexp.MustCompile(`^[-_A-Za-z0-9]+$`)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

var (
	makeSignalChannel = func() chan os.Signal { return make(chan os.Signal, 1) }
	notifySignals     = func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
	newServer         = func(addr string, handler http.Handler) httpServer {
		return &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       30 * time.Second,
		}
	}
	logFatal = func(v ...interface{}) {
		slog.Error("storebayes exited", "error", fmt.Sprint(v...))
		os.Exit(1)
	}
	runMain = func() error {
		return newRootCommand().Execute()
	}
)

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

type requestIDKey struct{}

// ClassifierAPI serves classifier HTTP endpoints. It holds no training state;
// counts live in the classifier's store.
type ClassifierAPI struct {
	classifier *bayes.Classifier
	store      store.CountingStore
	logger     *slog.Logger
	ready      atomic.Bool
}

// NewClassifierAPI returns an API for classifier. s is used for readiness
// checks and may be nil.
func NewClassifierAPI(classifier *bayes.Classifier, s store.CountingStore, logger *slog.Logger) *ClassifierAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifierAPI{classifier: classifier, store: s, logger: logger}
}

// RegisterRoutes registers all API routes on the provided ServeMux.
func (c *ClassifierAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/info", c.InfoHandler)
	mux.HandleFunc("/train/", c.TrainHandler)
	mux.HandleFunc("/untrain/", c.UntrainHandler)
	mux.HandleFunc("/untrain-all/", c.UntrainAllHandler)
	mux.HandleFunc("/classify", c.ClassifyHandler)
	mux.HandleFunc("/score", c.ScoreHandler)
	mux.HandleFunc("/blacklist", c.BlacklistHandler)
	mux.HandleFunc("/blacklist/", c.BlacklistWordHandler)
	mux.HandleFunc("/flush", c.FlushHandler)
	mux.HandleFunc("/debug", c.DebugHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/readyz", c.ReadyHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// withAuthorizationToken requires "Authorization: Bearer <token>" on every
// route except health, readiness and metrics. An empty token disables it.
func withAuthorizationToken(next http.Handler, token string) http.Handler {
	if token == "" {
		return next
	}
	expected := []byte(token)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if isPublicPath(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}

		scheme, provided, ok := strings.Cut(req.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), expected) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="storebayes"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// withRequestID echoes a caller supplied X-Request-Id or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(req.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	jsonResponse, err := json.Marshal(value)
	if err != nil {
		http.Error(w, `{"error":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResponse); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps classifier and store errors to HTTP statuses.
func (c *ClassifierAPI) writeFailure(w http.ResponseWriter, req *http.Request, err error) {
	logger := c.logger.With("path", req.URL.Path, "request_id", requestID(req.Context()))

	switch {
	case errors.Is(err, bayes.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "invalid category")
	case errors.Is(err, store.ErrUnavailable):
		logger.Warn("store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readBody(w http.ResponseWriter, req *http.Request) (string, bool) {
	req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodyBytes)
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return "", false
	}

	return string(body), true
}

func categoryFromPath(path, prefix string) (string, bool) {
	category := strings.TrimPrefix(path, prefix)
	if category == "" || strings.Contains(category, "/") {
		return "", false
	}

	if !categoryPathPattern.MatchString(category) {
		return "", false
	}

	return category, true
}

func wordFromPath(path string) (string, bool) {
	word := strings.TrimPrefix(path, "/blacklist/")
	if word == "" || strings.Contains(word, "/") {
		return "", false
	}
	return word, true
}

func requireMethod(w http.ResponseWriter, req *http.Request, methods ...string) bool {
	for _, method := range methods {
		if req.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func queryInt(req *http.Request, name string) (int, bool) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DebugHandler returns and clears the classifier's trace lines.
func (c *ClassifierAPI) DebugHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, &DebugResponse{Lines: c.classifier.DrainDebugData()})
}

// InfoHandler returns the categories with their totals and the global word count.
func (c *ClassifierAPI) InfoHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	info, err := c.classifier.Info(req.Context())
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, NewInfoClassifierResponse(info))
}

// TrainHandler trains a category using request body text.
func (c *ClassifierAPI) TrainHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	category, ok := categoryFromPath(req.URL.Path, "/train/")
	if !ok {
		writeError(w, http.StatusNotFound, "invalid category route")
		return
	}

	body, ok := readBody(w, req)
	if !ok {
		return
	}

	if err := c.classifier.Train(req.Context(), body, category); err != nil {
		c.writeFailure(w, req, err)
		return
	}
	c.writeTrainingResponse(w, req, nil)
}

// UntrainHandler removes one occurrence of each body token from a category.
func (c *ClassifierAPI) UntrainHandler(w http.ResponseWriter, req *http.Request) {
	c.untrain(w, req, "/untrain/", c.classifier.DeTrain)
}

// UntrainAllHandler removes each body token's whole count from a category.
func (c *ClassifierAPI) UntrainAllHandler(w http.ResponseWriter, req *http.Request) {
	c.untrain(w, req, "/untrain-all/", c.classifier.DeTrainAll)
}

type detrainFunc func(ctx context.Context, text, category string) ([]bayes.TokenOutcome, error)

func (c *ClassifierAPI) untrain(w http.ResponseWriter, req *http.Request, prefix string, detrain detrainFunc) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	category, ok := categoryFromPath(req.URL.Path, prefix)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid category route")
		return
	}

	body, ok := readBody(w, req)
	if !ok {
		return
	}

	outcomes, err := detrain(req.Context(), body, category)
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	c.writeTrainingResponse(w, req, outcomes)
}

func (c *ClassifierAPI) writeTrainingResponse(w http.ResponseWriter, req *http.Request, outcomes []bayes.TokenOutcome) {
	categories, err := c.classifier.Categories(req.Context())
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTrainingClassifierResponse(categories, outcomes))
}

// ClassifyHandler ranks categories for request body text. The optional limit
// and offset query parameters paginate the ranking.
func (c *ClassifierAPI) ClassifyHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	limit, ok := queryInt(req, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := queryInt(req, "offset")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	body, ok := readBody(w, req)
	if !ok {
		return
	}

	results, err := c.classifier.Classify(req.Context(), body, limit, offset)
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, NewClassificationResponse(results))
}

// ScoreHandler returns per-category scores for request body text.
func (c *ClassifierAPI) ScoreHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	body, ok := readBody(w, req)
	if !ok {
		return
	}

	scores, err := c.classifier.Scores(req.Context(), body)
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

// BlacklistHandler blacklists every whitespace separated word of the body.
func (c *ClassifierAPI) BlacklistHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	body, ok := readBody(w, req)
	if !ok {
		return
	}

	words := strings.Fields(body)
	if err := c.classifier.Blacklist(req.Context(), words...); err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, &StandardClassifierResponse{Success: true})
}

// BlacklistWordHandler looks up or removes one blacklisted word, as given.
func (c *ClassifierAPI) BlacklistWordHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet, http.MethodDelete) {
		return
	}

	word, ok := wordFromPath(req.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid word route")
		return
	}

	if req.Method == http.MethodDelete {
		removed, err := c.classifier.RemoveFromBlacklist(req.Context(), word)
		if err != nil {
			c.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, &BlacklistResponse{Word: word, Removed: removed})
		return
	}

	hits, err := c.classifier.BlacklistHits(req.Context(), word)
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	listed, err := c.classifier.IsBlacklisted(req.Context(), word)
	if err != nil {
		c.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, &BlacklistResponse{Word: word, Blacklisted: listed, Hits: hits})
}

// FlushHandler deletes all training data and gives us a fresh slate.
func (c *ClassifierAPI) FlushHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	if err := c.classifier.Flush(req.Context()); err != nil {
		c.writeFailure(w, req, err)
		return
	}
	c.writeTrainingResponse(w, req, nil)
}

// HealthHandler returns liveness status for process health checks.
func HealthHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler returns readiness status for traffic checks. Stores that can
// be pinged must answer for the service to be ready.
func (c *ClassifierAPI) ReadyHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if !c.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if p, ok := c.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			c.logger.Warn("readiness ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func main() {
	if err := runMain(); err != nil {
		logFatal(err)
	}
}
