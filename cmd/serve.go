package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the disclosure search and stats HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.queue.Start(ctx)

		checker := monitoring.NewChecker(env.collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownGrace())
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)

			// Let in-flight PDF jobs finish before the store closes.
			if err := env.queue.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("queue shutdown incomplete", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		snap, err := env.collector.Collect(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false, "error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/house-rep-trading", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false, "error": "invalid request body",
			})
			return
		}

		if details := req.validate(); len(details) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false, "error": "validation failed", "details": details,
			})
			return
		}

		res, err := env.search.Search(r.Context(), model.SearchQuery{
			LastName:   req.LastName,
			FilingYear: req.FilingYear,
			State:      req.State,
			District:   req.District,
		}, req.page(), req.pageSize())
		if err != nil {
			zap.L().Error("search request failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false, "error": err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Success:      true,
			Data:         res.Records,
			TotalResults: res.TotalResults,
			Cached:       res.Cached,
		})
	})

	r.Get("/house-rep-trading/transactions", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"success": false, "error": "limit must be a non-negative integer",
				})
				return
			}
		}

		rows, err := env.store.ListTransactions(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false, "error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "data": rows, "total": len(rows),
		})
	})

	return r
}

type searchRequest struct {
	LastName   string `json:"lastName"`
	FilingYear string `json:"filingYear"`
	State      string `json:"state"`
	District   string `json:"district"`
	Page       *int   `json:"page"`
	PageSize   *int   `json:"pageSize"`
}

// searchResponse is the successful search payload. Cached is only present
// when the result came from the search cache.
type searchResponse struct {
	Success      bool                     `json:"success"`
	Data         []model.DisclosureRecord `json:"data"`
	TotalResults int                      `json:"totalResults"`
	Cached       bool                     `json:"cached,omitempty"`
}

const maxRequestPageSize = 500

var (
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
	statePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// validate returns per-field error messages. All fields are optional, but
// pagination values that are present must be usable as-is: page starts at 1
// and pageSize stays within 1..500.
func (r searchRequest) validate() map[string]string {
	details := map[string]string{}
	if r.FilingYear != "" && !yearPattern.MatchString(r.FilingYear) {
		details["filingYear"] = "must be a four-digit year"
	}
	if r.State != "" && !statePattern.MatchString(r.State) {
		details["state"] = "must be a two-letter state code"
	}
	if r.Page != nil && *r.Page < 1 {
		details["page"] = "must be at least 1"
	}
	if r.PageSize != nil && (*r.PageSize < 1 || *r.PageSize > maxRequestPageSize) {
		details["pageSize"] = "must be between 1 and 500"
	}
	return details
}

func (r searchRequest) page() int {
	if r.Page == nil {
		return 1
	}
	return *r.Page
}

func (r searchRequest) pageSize() int {
	if r.PageSize == nil {
		return 0 // search client applies the configured default
	}
	return *r.PageSize
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
