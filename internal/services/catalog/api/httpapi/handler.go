// Package httpapi exposes catalog stock levels over REST.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
)

// Inventory is the stock surface the handlers need.
type Inventory interface {
	Get(productID string) int64
	Add(productID string, quantity int64) int64
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHandler routes GET and POST /catalog/{productId}. POST takes a bare
// JSON integer and adds it to the stock level.
func NewHandler(inv Inventory) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /catalog/{productId}", func(w http.ResponseWriter, r *http.Request) {
		productID, ok := requireProductID(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, inv.Get(productID))
	})
	mux.HandleFunc("POST /catalog/{productId}", func(w http.ResponseWriter, r *http.Request) {
		productID, ok := requireProductID(w, r)
		if !ok {
			return
		}
		var quantity int64
		if err := json.NewDecoder(r.Body).Decode(&quantity); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "request body must be an integer quantity",
				Code:  string(apperrors.CodeInvalidRequestBody),
			})
			return
		}
		inv.Add(productID, quantity)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func requireProductID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("productId"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "product id is required",
			Code:  string(apperrors.CodeProductIDRequired),
		})
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
