/*
Package monitoring provides Prometheus-based metrics collection.

Tracks HTTP requests, websocket connections and governor drops, broadcast
fan-out, session registry size, edit lock activity, PTY session lifecycle,
and store queue behavior.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

Expose via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
