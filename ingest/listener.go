package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"harvester/config"
	"harvester/core"
	"harvester/metrics"
	"harvester/util"
	"harvester/util/goroutine"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the id assigned to every ingested payload
const RequestIDHeader = "X-Request-ID"

const dlqWriteTimeout = 5 * time.Second

type requestIDKey struct{}

// Processor runs one decoded event start to finish
type Processor interface {
	Run(ctx context.Context, raw core.RawEvent) (*core.FimContext, error)
}

// Submitter queues tasks without blocking
type Submitter interface {
	Submit(task core.Task) error
}

// Listener accepts FIM payloads over HTTP and hands them to a worker pool
type Listener struct {
	host           string
	port           int
	tls            bool
	certFile       string
	keyFile        string
	maxBodySize    int64
	auth           bool
	jwtSecret      string
	issuer         string
	publishTimeout time.Duration

	processor Processor
	pool      Submitter
	dlq       *DLQ
	limiter   *rate.Limiter
	router    *mux.Router
	server    *http.Server
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
}

// NewListener creates a listener. dlq may be nil.
func NewListener(cfg *config.Config, processor Processor, pool Submitter, dlq *DLQ, logger *zap.SugaredLogger) *Listener {
	lc := cfg.Listener

	limit := rate.Inf
	if lc.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(lc.RateLimit.RequestsPerSecond)
	}
	burst := lc.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}

	l := &Listener{
		host:           lc.Host,
		port:           lc.Port,
		tls:            lc.TLS,
		certFile:       lc.CertFile,
		keyFile:        lc.KeyFile,
		maxBodySize:    lc.MaxBodySize,
		auth:           lc.Auth.Enabled,
		jwtSecret:      lc.Auth.JWTSecret,
		issuer:         lc.Auth.Issuer,
		publishTimeout: cfg.PublishTimeout(),
		processor:      processor,
		pool:           pool,
		dlq:            dlq,
		limiter:        rate.NewLimiter(limit, burst),
		logger:         logger,
	}
	l.router = l.routes()
	return l
}

func (l *Listener) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(l.requestID)
	r.HandleFunc("/health", l.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/fim").Subrouter()
	api.Use(l.rateLimit)
	if l.auth {
		api.Use(l.authenticate)
	}
	api.HandleFunc("/{kind:delta|sync|control}", l.handleIngest).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler, for tests and embedding
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Start serves HTTP in the background
func (l *Listener) Start() error {
	addr := net.JoinHostPort(l.host, fmt.Sprintf("%d", l.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l.server = &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer goroutine.Recover("ingest-http-server", l.logger)
		var err error
		if l.tls {
			err = l.server.ServeTLS(ln, l.certFile, l.keyFile)
		} else {
			err = l.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Errorw("Ingest listener error", "error", err)
		}
	}()

	l.logger.Infow("Ingest listener started", "addr", addr, "tls", l.tls, "auth", l.auth)
	return nil
}

// Stop shuts the server down gracefully
func (l *Listener) Stop(ctx context.Context) error {
	if l.server == nil {
		return nil
	}
	err := l.server.Shutdown(ctx)
	l.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shutdown ingest listener: %w", err)
	}
	return nil
}

func (l *Listener) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (l *Listener) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			metrics.IngestRejected.WithLabelValues(mux.Vars(r)["kind"], "rate_limited").Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Listener) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			metrics.IngestRejected.WithLabelValues(mux.Vars(r)["kind"], "unauthorized").Inc()
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := ValidateToken(token, l.jwtSecret, l.issuer); err != nil {
			metrics.IngestRejected.WithLabelValues(mux.Vars(r)["kind"], "unauthorized").Inc()
			l.logger.Debugw("Rejected token", "remote_addr", r.RemoteAddr, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Listener) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestResult is returned by synchronous ingestion (?wait=true)
type ingestResult struct {
	RequestID  string `json:"request_id"`
	Classified bool   `json:"classified"`
	Operation  string `json:"operation,omitempty"`
	Component  string `json:"component,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (l *Listener) handleIngest(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	decode, _ := DecoderFor(kind)
	reqID := requestIDFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IngestRejected.WithLabelValues(kind, "too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	raw, err := decode(body)
	if err != nil {
		metrics.IngestRejected.WithLabelValues(kind, "decode").Inc()
		l.deadLetter(&FailedEvent{
			RequestID:    reqID,
			Kind:         kind,
			Payload:      body,
			ErrorReason:  ReasonDecodeFailure,
			ErrorDetails: util.RedactError(err),
			SourceIP:     r.RemoteAddr,
		})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.EventsIngested.WithLabelValues(raw.Type().String()).Inc()

	if r.URL.Query().Get("wait") == "true" {
		l.processNow(w, r, reqID, kind, body, raw)
		return
	}

	sourceIP := r.RemoteAddr
	err = l.pool.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, l.publishTimeout)
		defer cancel()
		l.process(ctx, reqID, kind, body, raw, sourceIP)
	})
	if err != nil {
		metrics.IngestRejected.WithLabelValues(kind, "queue_full").Inc()
		l.logger.Warnw("Dropping event, worker pool unavailable", "request_id", reqID, "kind", kind, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResult{RequestID: reqID})
}

func (l *Listener) processNow(w http.ResponseWriter, r *http.Request, reqID, kind string, body []byte, raw core.RawEvent) {
	ctx, cancel := context.WithTimeout(r.Context(), l.publishTimeout)
	defer cancel()

	data, err := l.process(ctx, reqID, kind, body, raw, r.RemoteAddr)
	result := ingestResult{RequestID: reqID}
	if data != nil {
		result.Classified = data.Classified()
		if data.Classified() {
			result.Operation = data.Operation().String()
			result.Component = data.AffectedComponentType().String()
		}
	}

	status := http.StatusOK
	if err != nil {
		result.Error = err.Error()
		status = http.StatusBadGateway
		if isClassificationFailure(err) {
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, result)
}

func isClassificationFailure(err error) bool {
	return errors.Is(err, core.ErrClassification) || errors.Is(err, core.ErrUnknownEvent)
}

// process runs the event and dead-letters it on failure
func (l *Listener) process(ctx context.Context, reqID, kind string, body []byte, raw core.RawEvent, sourceIP string) (*core.FimContext, error) {
	data, err := l.processor.Run(ctx, raw)
	if err == nil {
		return data, nil
	}

	reason := ReasonPublishFailure
	if isClassificationFailure(err) {
		reason = ReasonClassificationFailure
	}
	agentID := ""
	if data != nil {
		agentID = data.AgentID()
	}
	l.logger.Warnw("Event processing failed",
		"request_id", reqID,
		"kind", kind,
		"agent_id", agentID,
		"reason", reason,
		"error", err)

	l.deadLetter(&FailedEvent{
		RequestID:    reqID,
		Kind:         kind,
		AgentID:      agentID,
		Payload:      body,
		ErrorReason:  reason,
		ErrorDetails: util.RedactError(err),
		SourceIP:     sourceIP,
	})
	return data, err
}

func (l *Listener) deadLetter(event *FailedEvent) {
	if l.dlq == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dlqWriteTimeout)
	defer cancel()
	if err := l.dlq.Add(ctx, event); err != nil {
		l.logger.Warnw("Failed to dead-letter event", "request_id", event.RequestID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
