package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/ChainTrace-Network/tracking_layer/internal/app"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/ledger"
)

var testTokens = map[string]string{
	"admin-token":       "admin",
	"producer-token":    "producer-1",
	"transporter-token": "transporter-1",
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	tokens := ledger.NewMemory()
	for _, identity := range []string{"producer-1", "transporter-1"} {
		if err := tokens.Mint(identity, 1000); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := tokens.Approve(context.Background(), identity, "tracking-layer", 1000); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	application, err := app.New(app.Stores{}, app.Options{
		FeeCollector: "fee-collector",
		Spender:      "tracking-layer",
		GenesisAdmin: "admin",
		Tokens:       tokens,
	}, nil)
	if err != nil {
		t.Fatalf("compose application: %v", err)
	}

	server := httptest.NewServer(NewHandler(application, Config{Tokens: testTokens}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, payload interface{}) *http.Response {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func grantRole(t *testing.T, server *httptest.Server, r, identity string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.URL+"/roles", "admin-token", map[string]interface{}{
		"role": r, "identity": identity,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant %s to %s: status %d", r, identity, resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/items", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/items", "bogus", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with unknown token, got %d", resp.StatusCode)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	grantRole(t, server, "PRODUCER", "producer-1")
	grantRole(t, server, "TRANSPORTER", "transporter-1")

	resp := doJSON(t, http.MethodPost, server.URL+"/items", "producer-token", map[string]interface{}{
		"code": "SKU-HTTP-1", "name": "widget", "cost_price": 10, "selling_price": 40,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: status %d", resp.StatusCode)
	}
	var created item.Record
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created item: %v", err)
	}
	resp.Body.Close()
	if created.CurrentState != item.StateProduced {
		t.Fatalf("expected PRODUCED, got %s", created.CurrentState)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/items/"+created.ID+"/transfer", "producer-token", map[string]interface{}{
		"receiver": "transporter-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate transfer: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/items/"+created.ID+"/confirm", "transporter-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("confirm transfer: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/items/"+created.ID, "producer-token", nil)
	var detail item.Record
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	resp.Body.Close()
	if detail.CurrentOwner != "transporter-1" || detail.CurrentState != item.StateInTransitAtTransporter {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/items/"+created.ID+"/history", "producer-token", nil)
	var history []item.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/ledger/accounts/fee-collector/balance", "producer-token", nil)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	resp.Body.Close()
	if balance.Balance != 10 {
		t.Fatalf("fee collector should hold the creation fee, got %d", balance.Balance)
	}
}

func TestRoleGateOverHTTP(t *testing.T) {
	server := newTestServer(t)

	// producer-1 has no role yet; creation must be rejected.
	resp := doJSON(t, http.MethodPost, server.URL+"/items", "producer-token", map[string]interface{}{
		"code": "SKU-HTTP-2", "name": "widget",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestUnknownItemReadOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/items/"+item.DeriveID("never-created"), "producer-token", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reads of unknown items answer with a zero record, got %d", resp.StatusCode)
	}
	var rec item.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Exists {
		t.Fatalf("unknown item must report exists=false")
	}
}

func TestAuditTrail(t *testing.T) {
	server := newTestServer(t)
	grantRole(t, server, "PRODUCER", "producer-1")

	resp := doJSON(t, http.MethodGet, server.URL+"/audit", "admin-token", nil)
	var entries []auditEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry for the grant, got %d", len(entries))
	}
	if entries[0].Identity != "admin" || entries[0].Path != "/roles" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestCORSPreflightAndOriginGate(t *testing.T) {
	handler := withCORS([]string{"https://app.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/items", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preflight expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin header %q", got)
	}

	req, err = http.NewRequest(http.MethodGet, server.URL+"/items", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown origin expected 403, got %d", resp.StatusCode)
	}
}
