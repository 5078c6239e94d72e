// Package item defines the tracked item record, its lifecycle states and the
// append-only history and certificate entries attached to it.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Record is the per-item custody record. ID is content-derived from the
// human-readable item code and immutable once created; Exists distinguishes
// "never created" from a zero-valued record.
type Record struct {
	ID                  string    `json:"id"`
	Code                string    `json:"code"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	CurrentOwner        string    `json:"current_owner"`
	CurrentState        State     `json:"current_state"`
	Exists              bool      `json:"exists"`
	PlannedDeliveryTime time.Time `json:"planned_delivery_time"`
	CostPrice           int64     `json:"cost_price"`
	SellingPrice        int64     `json:"selling_price"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PendingTransfer is the two-party handshake gating a custody change. At most
// one exists per item; it is deleted atomically with the confirming
// transition. FromConfirmed is always true once created, because initiation
// is itself the sender's confirmation.
type PendingTransfer struct {
	ItemID        string    `json:"item_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	FromConfirmed bool      `json:"from_confirmed"`
	ToConfirmed   bool      `json:"to_confirmed"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryEntry is one immutable step in an item's custody trail.
type HistoryEntry struct {
	State     State     `json:"state"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

// Certificate is a compliance attestation attached to an item. Duplicates are
// permitted; the log is an attestation trail, not a key-value store.
type Certificate struct {
	Name     string    `json:"name"`
	Issuer   string    `json:"issuer"`
	IssuedAt time.Time `json:"issued_at"`
}

// DeriveID computes the stable identifier for an item code: the hex encoding
// of the SHA-256 hash of the trimmed code.
func DeriveID(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}
