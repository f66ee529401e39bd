package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"folio/pkg/folio"
)

// UserHeader carries the caller-supplied user id.
const UserHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// NewRouter builds the HTTP API router. With no origins every origin is allowed.
func NewRouter(core *folio.Core, allowedOrigins ...string) http.Handler {
	logger := core.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	h := &handler{core: core, logger: logger}

	r.Get("/api/health", h.health)

	// Shared catalogue
	r.Get("/api/assets", h.listAssets)
	r.Post("/api/assets", h.createAsset)
	r.Get("/api/assets/{id}", h.getAsset)
	r.Put("/api/assets/{id}", h.updateAsset)
	r.Delete("/api/assets/{id}", h.deleteAsset)
	r.Put("/api/assets/{id}/price", h.updateAssetPrice)

	r.Get("/api/dividends", h.listDividends)
	r.Post("/api/dividends", h.addDividend)
	r.Delete("/api/dividends/{id}", h.deleteDividend)

	r.Get("/api/exchange-rates", h.getExchangeRates)
	r.Put("/api/exchange-rates", h.setExchangeRate)
	r.Post("/api/exchange-rates/refresh", h.refreshExchangeRates)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/api/transactions", h.getTransactions)
		r.Post("/api/transactions", h.addTransaction)
		r.Post("/api/transactions/import", h.importTransactions)
		r.Get("/api/transactions/{id}", h.getTransaction)
		r.Put("/api/transactions/{id}", h.updateTransaction)
		r.Delete("/api/transactions/{id}", h.deleteTransaction)

		r.Get("/api/positions", h.getPositions)
		r.Get("/api/positions/{assetID}/history", h.getPositionHistory)
		r.Post("/api/positions/recalculate", h.recalculate)
		r.Get("/api/realized-profits", h.getRealizedProfits)

		r.Get("/api/report", h.getReport)
		r.Get("/api/snapshots", h.getSnapshots)
		r.Post("/api/snapshots", h.recordSnapshot)

		r.Get("/api/tags", h.listTags)
		r.Post("/api/assets/{id}/tags", h.addAssetTag)
		r.Delete("/api/assets/{id}/tags/{tagID}", h.removeAssetTag)

		r.Get("/api/portfolios", h.listPortfolios)
		r.Post("/api/portfolios", h.createPortfolio)
		r.Get("/api/portfolios/{id}", h.getPortfolio)
		r.Put("/api/portfolios/{id}", h.updatePortfolio)
		r.Delete("/api/portfolios/{id}", h.deletePortfolio)

		r.Post("/api/dividends/{id}/income", h.recordDividendIncome)
		r.Get("/api/dividends/monthly", h.getDividendsByMonth)

		r.Get("/api/user/currency", h.getUserCurrency)
		r.Put("/api/user/currency", h.setUserCurrency)
	})

	return r
}

type handler struct {
	core   *folio.Core
	logger *slog.Logger
}

// requireUser rejects requests without an X-User-ID header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(message)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
