package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"folio/pkg/folio"
)

const maxImportBytes = 10 << 20

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Transactions

func (h *handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := normalizeLimitOffset(parseIntDefault(query.Get("limit"), 100), parseIntDefault(query.Get("offset"), 0))
	filter := folio.TransactionFilter{
		UserID:   userFrom(r),
		AssetID:  parseOptionalID(query.Get("asset_id")),
		Action:   folio.Action(query.Get("action")),
		DateFrom: query.Get("from"),
		DateTo:   query.Get("to"),
		Limit:    limit,
		Offset:   offset,
	}
	items, err := h.core.ListUserTransactions(r.Context(), filter)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	total, err := h.core.CountUserTransactions(r.Context(), filter)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, transactionsResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.core.GetTransaction(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, txn)
}

func (h *handler) addTransaction(w http.ResponseWriter, r *http.Request) {
	var payload transactionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.core.AddTransaction(r.Context(), payload.request(userFrom(r)))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	txn, err := h.core.GetTransaction(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeCreated(w, txn)
}

func (h *handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload transactionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := userFrom(r)
	if err := h.core.UpdateTransaction(r.Context(), userID, id, payload.request(userID)); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	txn, err := h.core.GetTransaction(r.Context(), userID, id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, txn)
}

func (h *handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.core.DeleteTransaction(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", nil)
}

// importTransactions accepts a CSV body, either raw or as the "file" field
// of a multipart form.
func (h *handler) importTransactions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "import exceeds 10 MB")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		body = file
	}
	result, err := h.core.ImportTransactionsCSV(r.Context(), userFrom(r), body)
	if isTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "import exceeds 10 MB")
		return
	}
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, result)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// Positions and valuation

func (h *handler) getPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.core.LatestPositions(r.Context(), userFrom(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, positions)
}

func (h *handler) getPositionHistory(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathID(w, r, "assetID")
	if !ok {
		return
	}
	history, err := h.core.PositionHistory(r.Context(), userFrom(r), assetID)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, history)
}

func (h *handler) recalculate(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	if raw := r.URL.Query().Get("asset_id"); raw != "" {
		assetID := parseOptionalID(raw)
		if assetID == nil {
			writeError(w, http.StatusBadRequest, "invalid asset_id")
			return
		}
		if err := h.core.Recalculate(r.Context(), userID, *assetID); err != nil {
			writeErrorResponse(w, r, http.StatusInternalServerError, err)
			return
		}
		writeSuccess(w, map[string]int{"recalculated": 1})
		return
	}
	n, err := h.core.RecalculateUser(r.Context(), userID)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, map[string]int{"recalculated": n})
}

func (h *handler) getRealizedProfits(w http.ResponseWriter, r *http.Request) {
	profits, err := h.core.RealizedProfits(r.Context(), userFrom(r), parseOptionalID(r.URL.Query().Get("asset_id")))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, profits)
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.core.BuildValuationReport(r.Context(), userFrom(r), r.URL.Query().Get("currency"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, report)
}

func (h *handler) getSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.core.ListPortfolioSnapshots(r.Context(), userFrom(r), r.URL.Query().Get("since"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, snapshots)
}

func (h *handler) recordSnapshot(w http.ResponseWriter, r *http.Request) {
	var payload snapshotPayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.core.RecordPortfolioSnapshot(r.Context(), userFrom(r), payload.Currency, payload.Date)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, snap)
}

// Assets

func (h *handler) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.core.ListAssets(r.Context())
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, assets)
}

func (h *handler) getAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asset, err := h.core.GetAsset(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, asset)
}

func (h *handler) createAsset(w http.ResponseWriter, r *http.Request) {
	var payload assetPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := h.core.CreateAsset(r.Context(), payload.request())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeCreated(w, asset)
}

func (h *handler) updateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload assetPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := h.core.UpdateAsset(r.Context(), id, payload.request())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, asset)
}

func (h *handler) updateAssetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload pricePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price := folio.NewMoney(payload.Price.Decimal, payload.Currency)
	if payload.Currency == "" {
		asset, err := h.core.GetAsset(r.Context(), id)
		if err != nil {
			writeErrorResponse(w, r, http.StatusInternalServerError, err)
			return
		}
		price.Currency = asset.Currency
	}
	if err := h.core.UpdateAssetPrice(r.Context(), id, price); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	asset, err := h.core.GetAsset(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, asset)
}

func (h *handler) deleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.core.DeleteAsset(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", nil)
}

// Tags and portfolios

func (h *handler) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.core.ListTags(r.Context(), userFrom(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, tags)
}

func (h *handler) addAssetTag(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload tagPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tag, err := h.core.AddTagToAsset(r.Context(), userFrom(r), assetID, payload.Name)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, tag)
}

func (h *handler) removeAssetTag(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tagID, ok := pathID(w, r, "tagID")
	if !ok {
		return
	}
	if err := h.core.RemoveTagFromAsset(r.Context(), userFrom(r), assetID, tagID); err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccessWithMessage(w, "removed", nil)
}

func (h *handler) listPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.core.ListPortfolios(r.Context(), userFrom(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, portfolios)
}

func (h *handler) getPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.core.GetPortfolio(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, p)
}

func (h *handler) createPortfolio(w http.ResponseWriter, r *http.Request) {
	var payload portfolioPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.core.CreatePortfolio(r.Context(), userFrom(r), payload.request())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeCreated(w, p)
}

func (h *handler) updatePortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload portfolioPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.core.UpdatePortfolio(r.Context(), userFrom(r), id, payload.request())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, p)
}

func (h *handler) deletePortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.core.DeletePortfolio(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", nil)
}

// Dividends

func (h *handler) listDividends(w http.ResponseWriter, r *http.Request) {
	dividends, err := h.core.ListDividends(r.Context(), parseOptionalID(r.URL.Query().Get("asset_id")))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, dividends)
}

func (h *handler) addDividend(w http.ResponseWriter, r *http.Request) {
	var payload dividendPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.core.AddDividend(r.Context(), folio.DividendRequest{
		AssetID:  payload.AssetID,
		ExDate:   payload.ExDate,
		PayDate:  payload.PayDate,
		Value:    payload.Value,
		Currency: payload.Currency,
	})
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, d)
}

func (h *handler) deleteDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.core.DeleteDividend(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "dividend not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", nil)
}

func (h *handler) recordDividendIncome(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	profit, err := h.core.RecordDividendIncome(r.Context(), userFrom(r), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, profit)
}

func (h *handler) getDividendsByMonth(w http.ResponseWriter, r *http.Request) {
	chart, err := h.core.DividendsByMonth(r.Context(), userFrom(r), r.URL.Query().Get("currency"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, chart)
}

// Exchange rates

func (h *handler) getExchangeRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.core.GetExchangeRates(r.Context())
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, rates)
}

func (h *handler) setExchangeRate(w http.ResponseWriter, r *http.Request) {
	var payload exchangeRatePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.core.SetExchangeRate(r.Context(), payload.FromCurrency, payload.ToCurrency, payload.Rate, payload.Source); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccessWithMessage(w, "updated", nil)
}

func (h *handler) refreshExchangeRates(w http.ResponseWriter, r *http.Request) {
	var payload refreshRatesPayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Base == "" {
		payload.Base = "USD"
	}
	if len(payload.Targets) == 0 {
		payload.Targets = folio.SupportedUserCurrencies
	}
	updated, failures, err := h.core.RefreshExchangeRates(r.Context(), payload.Base, payload.Targets)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadGateway, err)
		return
	}
	if failures == nil {
		failures = []string{}
	}
	writeSuccess(w, refreshRatesResponse{Updated: updated, Failures: failures})
}

// User preferences

func (h *handler) getUserCurrency(w http.ResponseWriter, r *http.Request) {
	currency, err := h.core.GetUserCurrency(r.Context(), userFrom(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, currencyPayload{Currency: currency})
}

func (h *handler) setUserCurrency(w http.ResponseWriter, r *http.Request) {
	var payload currencyPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.core.SetUserCurrency(r.Context(), userFrom(r), payload.Currency); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, currencyPayload{Currency: strings.ToUpper(strings.TrimSpace(payload.Currency))})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseOptionalID(value string) *int64 {
	if value == "" {
		return nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func normalizeLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
