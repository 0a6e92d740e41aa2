// Package web serves the status API, Prometheus metrics and the captured log
// tail over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Calibrator exposes gyro zero-drift calibration; *imu.Service implements it.
type Calibrator interface {
	Calibrate(ctx context.Context) error
	Bias() [3]float64
}

const calibrateTimeout = 30 * time.Second

// Handler builds the HTTP mux. gatherer, logs and cal are optional.
func Handler(status *Status, gatherer prometheus.Gatherer, logs *LogBuffer, cal Calibrator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now()))
	})

	mux.HandleFunc("/api/about", aboutHandler)

	mux.HandleFunc("/api/imu/zero-drift", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if cal == nil {
			http.Error(w, "imu unavailable", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), calibrateTimeout)
		defer cancel()
		if err := cal.Calibrate(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b := cal.Bias()
		writeJSON(w, map[string]any{"ok": true, "bias_rad_s": b[:]})
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allow(w, r, http.MethodGet) {
			return
		}
		snap := status.Snapshot(time.Now())
		peer := snap.DSU.Peer
		if peer == "" {
			peer = "none"
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>dsumotion</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>dsumotion</h1>")
		_, _ = fmt.Fprintf(w, "<pre>running=%t\nport=%d\nclient=%s\nsource=%s\nsamples_total=%d</pre>",
			snap.DSU.Running, snap.DSU.Port, peer, snap.Source, snap.SamplesTotal,
		)
		_, _ = fmt.Fprintf(w, "<p><a href=\"/api/status\">/api/status</a> <a href=\"/metrics\">/metrics</a> <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// Serve runs an HTTP server on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      calibrateTimeout + 5*time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
