package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"estate-scout/models"
	"estate-scout/pipeline"
	"estate-scout/utils"
)

// serveHTTP exposes the runner over HTTP: POST /api/run triggers a scrape
// and streams back the RunResult, GET /api/status reports the runner state.
// A trigger while a run is executing gets 409 and leaves the run alone.
func serveHTTP(ctx context.Context, addr string, runner *pipeline.Runner, logger *utils.Logger) error {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(runner.State())})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/run", func(w http.ResponseWriter, req *http.Request) {
		result, err := runner.Run(ctx)
		switch {
		case errors.Is(err, models.ErrRunInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil && result == nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, result)
		}
	}).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Hour, // a triggered run responds when it finishes
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
