package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/binderctl/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startedAt = time.Now()

func metricsRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "binderctl",
		})
	})
	return r
}

// startMetricsServer serves /metrics and /health until the returned stop
// function is called.
func startMetricsServer(addr string) func() {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("binderctl: metrics server: %v", err)
		}
	}()
	logging.Infof("binderctl: metrics on http://%s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warnf("binderctl: metrics shutdown: %v", err)
		}
	}
}
