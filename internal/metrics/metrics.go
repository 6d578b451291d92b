// Package metrics exposes harvest progress as Prometheus counters.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/harvester/internal/harvest"
)

// Metrics holds the harvest counters on a private registry
type Metrics struct {
	registry *prometheus.Registry
	pages    *prometheus.CounterVec
	fields   *prometheus.CounterVec
	written  prometheus.Counter
}

// New creates and registers the harvest counters
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Pages seen, and pages skipped by reason.",
		}, []string{"outcome"}),
		fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fields_total",
			Help: "Mapped template fields by outcome.",
		}, []string{"outcome"}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_claims_written_total",
			Help: "Claims written to the repository.",
		}),
	}
	m.registry.MustRegister(m.pages, m.fields, m.written)
	return m
}

// PageSeen counts a page taken from the page source
func (m *Metrics) PageSeen() {
	m.pages.WithLabelValues("seen").Inc()
}

// Record counts one outcome
func (m *Metrics) Record(o harvest.Outcome) {
	label := string(o.Status)
	if o.Status == harvest.StatusSkipped {
		label = string(o.Reason)
	}

	if o.Field == "" {
		m.pages.WithLabelValues(label).Inc()
		return
	}
	m.fields.WithLabelValues(label).Inc()
	if o.Status == harvest.StatusWritten {
		m.written.Inc()
	}
}

// Registry returns the registry the counters live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the counters in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
