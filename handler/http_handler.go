package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"querybridge/backend"
	"querybridge/manager"
	"querybridge/metrics"
)

const requestIDHeader = "X-Request-Id"

// Runner runs the external program for one query.
type Runner interface {
	Run(ctx context.Context, query string) (*backend.Result, error)
}

// Options configures a BridgeHandler.
type Options struct {
	// Program names the executable in logs, metrics and concurrency accounting.
	Program string
	Runner  Runner
	// Concurrency bounds running children. Nil means unbounded.
	Concurrency  *manager.ConcurrencyManager
	Metrics      *metrics.Metrics
	MaxBodyBytes int64
	// LogFailures echoes the stderr of failed children to Console.
	LogFailures bool
	Console     io.Writer
}

// BridgeHandler turns a POSTed query into one program invocation and relays its output.
type BridgeHandler struct {
	program      string
	runner       Runner
	concurrency  *manager.ConcurrencyManager
	metrics      *metrics.Metrics
	maxBodyBytes int64
	logFailures  bool
	console      io.Writer
}

// NewBridgeHandler creates a new instance of BridgeHandler
func NewBridgeHandler(opts Options) *BridgeHandler {
	if opts.Runner == nil {
		panic("handler: Runner is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	return &BridgeHandler{
		program:      opts.Program,
		runner:       opts.Runner,
		concurrency:  opts.Concurrency,
		metrics:      opts.Metrics,
		maxBodyBytes: opts.MaxBodyBytes,
		logFailures:  opts.LogFailures,
		console:      opts.Console,
	}
}

// ServeHTTP implements the http.Handler interface for BridgeHandler.
func (h *BridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	w.Header().Set(requestIDHeader, requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.metrics.IncrementRejected("read_body")
		logAndReturnError(w, r, "Bad Request: unable to read body", http.StatusBadRequest, fmt.Sprintf("Reading body: %v", err))
		return
	}

	query, err := parseQuery(body)
	if err != nil {
		h.metrics.IncrementRejected("invalid_body")
		logAndReturnError(w, r, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if h.concurrency != nil {
		release, err := h.concurrency.Acquire(r.Context(), h.program)
		if err != nil {
			h.metrics.IncrementRejected("client_gone")
			log.Debugf("Client %s disconnected while waiting for a slot", r.RemoteAddr)
			logAndReturnError(w, r, "Service Unavailable: request cancelled", http.StatusServiceUnavailable)
			return
		}
		defer release()
	}

	status := h.invoke(r.Context(), w, query)
	logRequest(r, status, requestID)
}

func (h *BridgeHandler) invoke(ctx context.Context, w http.ResponseWriter, query string) int {
	inFlight := h.metrics.InFlight.WithLabelValues(h.program)
	inFlight.Inc()
	start := time.Now()
	res, err := h.runner.Run(ctx, query)
	inFlight.Dec()

	if err != nil {
		h.metrics.ObserveInvocation(h.program, metrics.OutcomeSpawnError, time.Since(start).Seconds())
		log.Errorf("Program %s could not be run: %v", h.program, err)
		writeBody(w, http.StatusInternalServerError, []byte(err.Error()))
		return http.StatusInternalServerError
	}

	if res.Success() {
		h.metrics.ObserveInvocation(h.program, metrics.OutcomeSuccess, res.Elapsed.Seconds())
		w.Header().Set("Content-Type", "application/json")
		writeBody(w, http.StatusOK, res.Stdout)
		return http.StatusOK
	}

	h.metrics.ObserveInvocation(h.program, metrics.OutcomeFailure, res.Elapsed.Seconds())
	log.Warnf("Program %s exited with code %d after %s", h.program, res.ExitCode, res.Elapsed)
	if h.logFailures {
		fmt.Fprintln(h.console, string(res.Stderr))
	}
	writeBody(w, http.StatusInternalServerError, res.Stderr)
	return http.StatusInternalServerError
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Debugf("Writing response: %v", err)
	}
}

// requestIDFor reuses a well-formed X-Request-Id from the client or mints a new one.
func requestIDFor(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(requestIDHeader)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
