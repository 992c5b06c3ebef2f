// Package httpapi exposes the cart service over JSON REST.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// CartService is the cart surface the handlers need.
type CartService interface {
	Get(ctx context.Context, cartID string) (cart.Summary, error)
	GetReport(ctx context.Context, cartID string) (storage.CartReport, error)
	AddItem(ctx context.Context, cartID, itemID string, quantity int) (cart.Summary, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (cart.Summary, error)
	AdjustItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (cart.Summary, error)
	Checkout(ctx context.Context, cartID string) (cart.Summary, error)
}

type cartItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type reportView struct {
	ID           string     `json:"id"`
	CreationDate time.Time  `json:"creationDate"`
	CheckoutDate *time.Time `json:"checkoutDate"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHandler routes the cart endpoints onto svc.
func NewHandler(svc CartService) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart/{id}", handleGet(svc))
	mux.HandleFunc("GET /cart/{id}/report", handleGetReport(svc))
	mux.HandleFunc("POST /cart/{id}", handleAddItem(svc))
	mux.HandleFunc("DELETE /cart/{cartId}/item/{itemId}", handleRemoveItem(svc))
	mux.HandleFunc("PATCH /cart/{cartId}/item/{itemId}", handleAdjustItem(svc))
	mux.HandleFunc("POST /cart/{id}/checkout", handleCheckout(svc))
	return mux
}

func handleGet(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cartID := r.PathValue("id")
		summary, err := svc.Get(r.Context(), cartID)
		writeSummary(w, cartID, summary, err)
	}
}

func handleGetReport(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.GetReport(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reportView{
			ID:           report.ID,
			CreationDate: report.CreationDate.UTC(),
			CheckoutDate: report.CheckoutDate,
		})
	}
}

func handleAddItem(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cartItemRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ItemID) == "" {
			writeError(w, http.StatusBadRequest, string(apperrors.CodeInvalidRequestBody), "itemId is required")
			return
		}
		cartID := r.PathValue("id")
		summary, err := svc.AddItem(r.Context(), cartID, req.ItemID, req.Quantity)
		writeSummary(w, cartID, summary, err)
	}
}

func handleRemoveItem(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cartID := r.PathValue("cartId")
		summary, err := svc.RemoveItem(r.Context(), cartID, r.PathValue("itemId"))
		writeSummary(w, cartID, summary, err)
	}
}

func handleAdjustItem(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quantityRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cartID := r.PathValue("cartId")
		summary, err := svc.AdjustItemQuantity(r.Context(), cartID, r.PathValue("itemId"), req.Quantity)
		writeSummary(w, cartID, summary, err)
	}
}

func handleCheckout(svc CartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cartID := r.PathValue("id")
		summary, err := svc.Checkout(r.Context(), cartID)
		writeSummary(w, cartID, summary, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, string(apperrors.CodeInvalidRequestBody), "invalid request body")
		return false
	}
	return true
}

func writeSummary(w http.ResponseWriter, cartID string, summary cart.Summary, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart.NewView(cartID, summary))
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		log.Printf("cart http: %v", err)
		writeError(w, http.StatusInternalServerError, string(code), "internal error")
		return
	}
	writeError(w, code.HTTPStatus(), string(code), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","code":"UNKNOWN"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
