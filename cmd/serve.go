package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/cascade"
	"github.com/sells-group/genroute/internal/fallback"
	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/monitoring"
)

var servePort int

// generator is the orchestrator surface the HTTP API needs.
type generator interface {
	GenerateWithFallback(ctx context.Context, req model.GenerationRequest, unrestricted bool) (*model.FallbackResult, error)
	GenerateVisionDescription(ctx context.Context, image []byte, mimeType, altText string) (*model.VisionResult, error)
}

// quotaLedger is the quota surface the HTTP API needs.
type quotaLedger interface {
	Snapshot() []model.QuotaState
	Reset(ctx context.Context, id string)
}

type api struct {
	gen     generator
	quotas  quotaLedger
	timeout time.Duration
}

type generateRequest struct {
	Messages     []model.Message `json:"messages"`
	Prompt       string          `json:"prompt,omitempty"`
	Temperature  float64         `json:"temperature"`
	MaxTokens    int             `json:"max_tokens"`
	Unrestricted bool            `json:"unrestricted"`
}

type visionRequest struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	AltText     string `json:"alt_text"`
}

type quotaView struct {
	model.QuotaState
	Remaining int       `json:"remaining"`
	NextReset time.Time `json:"next_reset"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gw, err := initGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(gw.Store, gw.Ledger, gw.Breakers),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		a := &api{
			gen:     gw.Orchestrator,
			quotas:  gw.Ledger,
			timeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.router(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (a *api) router(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", a.handleGenerate)
		r.Post("/vision", a.handleVision)
		r.Get("/quotas", a.handleQuotas)
		r.Post("/quotas/{id}/reset", a.handleQuotaReset)
	})
	return r
}

func (a *api) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(r.Context(), a.timeout)
	}
	return context.WithCancel(r.Context())
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := model.GenerationRequest{
		Messages:    body.Messages,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}
	if p := strings.TrimSpace(body.Prompt); p != "" {
		req.Messages = append(req.Messages, model.Message{Role: "user", Content: p})
	}
	if req.LastUserMessage() == "" {
		writeError(w, http.StatusBadRequest, "a user message is required")
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	res, err := a.gen.GenerateWithFallback(ctx, req, body.Unrestricted)
	if err != nil {
		if errors.Is(err, cascade.ErrNoProviders) {
			writeError(w, http.StatusServiceUnavailable, "no providers configured")
			return
		}
		zap.L().Error("generate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "generation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleVision(w http.ResponseWriter, r *http.Request) {
	var body visionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	img, err := base64.StdEncoding.DecodeString(body.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image_base64 is not valid base64")
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	res, err := a.gen.GenerateVisionDescription(ctx, img, body.MimeType, body.AltText)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, fallback.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cascade.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, "no vision providers configured")
	default:
		zap.L().Error("vision failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "vision description failed")
	}
}

func (a *api) handleQuotas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, quotaViews(a.quotas.Snapshot()))
}

func (a *api) handleQuotaReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !knownProvider(a.quotas.Snapshot(), id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return
	}
	a.quotas.Reset(r.Context(), id)
	for _, q := range quotaViews(a.quotas.Snapshot()) {
		if q.ProviderID == id {
			writeJSON(w, http.StatusOK, q)
			return
		}
	}
}

func quotaViews(states []model.QuotaState) []quotaView {
	out := make([]quotaView, len(states))
	for i, s := range states {
		out[i] = quotaView{QuotaState: s, Remaining: s.Remaining(), NextReset: s.NextReset()}
	}
	return out
}

func knownProvider(states []model.QuotaState, id string) bool {
	for _, s := range states {
		if s.ProviderID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
