// Package httpapi exposes the tracking services over REST. Callers
// authenticate with bearer tokens that map to ledger identities; the
// identity plays the part a transaction signer would on chain.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	app "github.com/ChainTrace-Network/tracking_layer/internal/app"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	rolesvc "github.com/ChainTrace-Network/tracking_layer/internal/app/services/roles"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/tracking"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Config carries the transport-level settings for the API.
type Config struct {
	// Tokens maps bearer tokens to caller identities. Empty disables
	// authentication and treats the X-Identity header as the caller, which
	// is only acceptable for local development.
	Tokens map[string]string
	// AuditFile, when set, mirrors the audit trail to a JSONL file.
	AuditFile string
	// AllowedOrigins lists CORS origins permitted to call the API. Empty
	// disables CORS handling entirely; "*" allows any origin.
	AllowedOrigins []string
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application, cfg Config) http.Handler {
	var sink auditSink
	if fs, err := newFileAuditSink(cfg.AuditFile); err == nil && fs != nil {
		sink = fs
	}
	h := &handler{app: application, audit: newAuditLog(200, sink)}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/items", h.items)
	mux.HandleFunc("/items/", h.itemResources)
	mux.HandleFunc("/roles", h.roles)
	mux.HandleFunc("/roles/", h.roleResources)
	mux.HandleFunc("/ledger/approve", h.ledgerApprove)
	mux.HandleFunc("/ledger/accounts/", h.ledgerAccounts)
	mux.HandleFunc("/audit", h.auditEntries)
	return withCORS(cfg.AllowedOrigins, withAuth(cfg.Tokens, h.audit, mux))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) items(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Code                string    `json:"code"`
			Name                string    `json:"name"`
			Description         string    `json:"description"`
			PlannedDeliveryTime time.Time `json:"planned_delivery_time"`
			CostPrice           int64     `json:"cost_price"`
			SellingPrice        int64     `json:"selling_price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		rec, err := h.app.Tracking.CreateItem(r.Context(), identityFrom(r.Context()), tracking.CreateItemParams{
			Code:                payload.Code,
			Name:                payload.Name,
			Description:         payload.Description,
			PlannedDeliveryTime: payload.PlannedDeliveryTime,
			CostPrice:           payload.CostPrice,
			SellingPrice:        payload.SellingPrice,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)

	case http.MethodGet:
		ids, err := h.app.Tracking.ListItemIDs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"item_ids": ids})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) itemResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/items"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	itemID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rec, err := h.app.Tracking.GetItemDetail(r.Context(), itemID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	switch parts[1] {
	case "history":
		h.itemHistory(w, r, itemID)
	case "certificates":
		h.itemCertificates(w, r, itemID)
	case "transfer":
		h.itemTransfer(w, r, itemID)
	case "confirm":
		h.itemConfirm(w, r, itemID)
	case "purchase":
		h.itemPurchase(w, r, itemID)
	case "damage":
		h.itemIncident(w, r, itemID, "damage")
	case "lost":
		h.itemIncident(w, r, itemID, "lost")
	case "price":
		h.itemPrice(w, r, itemID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) itemHistory(w http.ResponseWriter, r *http.Request, itemID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	history, err := h.app.Tracking.GetItemHistory(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *handler) itemCertificates(w http.ResponseWriter, r *http.Request, itemID string) {
	switch r.Method {
	case http.MethodGet:
		certs, err := h.app.Tracking.GetCertificates(r.Context(), itemID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, certs)

	case http.MethodPost:
		var payload struct {
			Name   string `json:"name"`
			Issuer string `json:"issuer"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := h.app.Tracking.AddCertificate(r.Context(), identityFrom(r.Context()), itemID, payload.Name, payload.Issuer)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) itemTransfer(w http.ResponseWriter, r *http.Request, itemID string) {
	switch r.Method {
	case http.MethodGet:
		transfer, ok, err := h.app.Tracking.GetPendingTransfer(r.Context(), itemID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("no pending transfer"))
			return
		}
		writeJSON(w, http.StatusOK, transfer)

	case http.MethodPost:
		var payload struct {
			Receiver string `json:"receiver"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := h.app.Tracking.InitiateTransfer(r.Context(), identityFrom(r.Context()), itemID, payload.Receiver)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) itemConfirm(w http.ResponseWriter, r *http.Request, itemID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Tracking.ConfirmTransfer(r.Context(), identityFrom(r.Context()), itemID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) itemPurchase(w http.ResponseWriter, r *http.Request, itemID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Tracking.CustomerBuyItem(r.Context(), identityFrom(r.Context()), itemID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) itemIncident(w http.ResponseWriter, r *http.Request, itemID, kind string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	if kind == "damage" {
		err = h.app.Tracking.ReportDamage(r.Context(), identityFrom(r.Context()), itemID, payload.Reason)
	} else {
		err = h.app.Tracking.ReportLost(r.Context(), identityFrom(r.Context()), itemID, payload.Reason)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) itemPrice(w http.ResponseWriter, r *http.Request, itemID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		SellingPrice int64 `json:"selling_price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.app.Tracking.UpdateSellingPrice(r.Context(), identityFrom(r.Context()), itemID, payload.SellingPrice)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) roles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Role     string `json:"role"`
		Identity string `json:"identity"`
		Revoke   bool   `json:"revoke"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	parsed, err := role.Parse(payload.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller := identityFrom(r.Context())
	if payload.Revoke {
		err = h.app.Roles.Revoke(r.Context(), caller, parsed, payload.Identity)
	} else {
		err = h.app.Roles.Grant(r.Context(), caller, parsed, payload.Identity)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) roleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := strings.Trim(strings.TrimPrefix(r.URL.Path, "/roles"), "/")
	if identity == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	roles, err := h.app.Roles.List(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"identity": identity, "roles": roles})
}

func (h *handler) ledgerApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Spender string `json:"spender"`
		Amount  int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := identityFrom(r.Context())
	if err := h.app.Tokens.Approve(r.Context(), caller, payload.Spender, payload.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) ledgerAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ledger/accounts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "balance" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	balance, err := h.app.Tokens.BalanceOf(r.Context(), parts[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"identity": parts[0], "balance": balance})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.list())
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrWrongState), errors.Is(err, tracking.ErrInvalidReceiverRole):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, tracking.ErrUnauthorized),
		errors.Is(err, tracking.ErrNotOwner),
		errors.Is(err, tracking.ErrNotReceiver),
		errors.Is(err, rolesvc.ErrAdminRequired):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
