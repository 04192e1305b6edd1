// Package exporters exposes capture metrics over HTTP and the event bus.
package exporters

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/dmacap/internal/logging"
)

// HTTPHandler serves every promauto-registered metric from the default
// registry.
func HTTPHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		HTTPHandlerFor(prometheus.DefaultGatherer),
	)
}

// HTTPHandlerFor serves the metrics of g. Collection errors are logged on
// the "metrics" module and the remaining metrics are still served.
func HTTPHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(logging.GetLogger("metrics").Handler(), slog.LevelError),
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
