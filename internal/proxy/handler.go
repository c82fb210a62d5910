package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/edgeship/internal/domain"
)

// DefaultDocument is served when a request targets the deployment root.
const DefaultDocument = "index.html"

const (
	msgInvalidHost    = "Invalid host."
	msgProxyFailed    = "Proxy failed."
	msgNotAvailable   = "Deployment not available."
	msgInternalFailed = "Something went wrong while proxying the request."
)

var errDeploymentUnavailable = fmt.Errorf("%w: deployment not available", domain.ErrUpstreamUnavailable)

type targetKey struct{}

type target struct {
	key    string
	origin *url.URL
	root   bool
}

var (
	metricsOnce  sync.Once
	outcomes     *prometheus.CounterVec
	proxyLatency prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeship",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by outcome",
		}, []string{"outcome"})
		if err := prometheus.Register(outcomes); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					outcomes = existing
				}
			}
		}
		proxyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgeship",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Latency of proxied requests including the upstream round trip",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		})
		if err := prometheus.Register(proxyLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
					proxyLatency = existing
				}
			}
		}
	})
}

// Options tunes the upstream transport.
type Options struct {
	Transport       http.RoundTripper
	UpstreamTimeout time.Duration
}

// Handler forwards each request to the origin its hostname resolves to.
type Handler struct {
	resolver Resolver
	logger   *slog.Logger
	proxy    *httputil.ReverseProxy
}

// NewHandler builds a proxy handler around resolver.
func NewHandler(resolver Resolver, logger *slog.Logger, opts Options) *Handler {
	initMetrics()
	transport := opts.Transport
	if transport == nil {
		timeout := opts.UpstreamTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		base.ResponseHeaderTimeout = timeout
		transport = base
	}
	h := &Handler{resolver: resolver, logger: logger}
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.handleError,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { proxyLatency.Observe(time.Since(start).Seconds()) }()

	origin, err := h.resolver.Resolve(r.Host)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	key, _ := RoutingKey(r.Host)
	t := &target{key: key, origin: origin, root: r.URL.Path == "/" || r.URL.Path == ""}
	h.logger.Info("proxy request", "subdomain", key, "method", r.Method, "path", r.URL.Path)

	ctx := context.WithValue(r.Context(), targetKey{}, t)
	h.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// rewrite points the outbound request at the origin and substitutes the default document
// for the root path. The Host header follows the origin.
func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	t, _ := pr.In.Context().Value(targetKey{}).(*target)
	if t == nil {
		return
	}
	pr.SetURL(t.origin)
	pr.SetXForwarded()
	if t.root {
		pr.Out.URL.Path = t.origin.Path + "/" + DefaultDocument
		pr.Out.URL.RawPath = ""
	}
}

// modifyResponse turns a missing root document into an unavailable deployment. Missing
// assets below the root pass through as the origin's own 404.
func (h *Handler) modifyResponse(resp *http.Response) error {
	t, _ := resp.Request.Context().Value(targetKey{}).(*target)
	if t == nil || !t.root {
		outcomes.WithLabelValues("proxied").Inc()
		return nil
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return errDeploymentUnavailable
	}
	outcomes.WithLabelValues("proxied").Inc()
	return nil
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, outcome := classify(err)
	outcomes.WithLabelValues(outcome).Inc()
	fields := []any{"host", r.Host, "path", r.URL.Path, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.Error("proxy failed", fields...)
	} else {
		h.logger.Warn("proxy rejected request", fields...)
	}
	http.Error(w, msg, status)
}

// classify maps a proxy error to its response status, body and metric label.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidHost):
		return http.StatusBadRequest, msgInvalidHost, "invalid_host"
	case errors.Is(err, errDeploymentUnavailable):
		return http.StatusBadGateway, msgNotAvailable, "not_available"
	case isUpstreamFailure(err):
		return http.StatusBadGateway, msgProxyFailed, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, msgInternalFailed, "error"
	}
}

func isUpstreamFailure(err error) bool {
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
