package item

import (
	"fmt"
	"strings"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
)

// State is an item's lifecycle position in the custody chain.
type State string

const (
	StateProduced               State = "PRODUCED"
	StateInTransit              State = "IN_TRANSIT"
	StateInTransitAtTransporter State = "IN_TRANSIT_AT_TRANSPORTER"
	StateInTransitToDistributor State = "IN_TRANSIT_TO_DISTRIBUTOR"
	StateReceivedAtDistributor  State = "RECEIVED_AT_DISTRIBUTOR"
	StateInTransitToRetailer    State = "IN_TRANSIT_TO_RETAILER"
	StateReceivedAtRetailer     State = "RECEIVED_AT_RETAILER"
	StateSold                   State = "SOLD"
	StateDamaged                State = "DAMAGED"
	StateLost                   State = "LOST"
)

// States lists every lifecycle state in canonical order. The ordering matches
// the persisted enum layout and must not be reshuffled.
var States = []State{
	StateProduced,
	StateInTransit,
	StateInTransitAtTransporter,
	StateInTransitToDistributor,
	StateReceivedAtDistributor,
	StateInTransitToRetailer,
	StateReceivedAtRetailer,
	StateSold,
	StateDamaged,
	StateLost,
}

// initiateNext maps the states from which the current owner may open a
// handshake to the in-transit state the item enters while the transfer is
// pending. States absent from the table cannot initiate.
var initiateNext = map[State]State{
	StateProduced:               StateInTransit,
	StateInTransitAtTransporter: StateInTransitToDistributor,
	StateReceivedAtDistributor:  StateInTransitToRetailer,
}

// confirmNext maps the receiver's role to the state the item enters when the
// receiver confirms and takes custody.
var confirmNext = map[role.Role]State{
	role.Transporter: StateInTransitAtTransporter,
	role.Distributor: StateReceivedAtDistributor,
	role.Retailer:    StateReceivedAtRetailer,
}

// Terminal reports whether no further transition is defined from s.
func (s State) Terminal() bool {
	switch s {
	case StateSold, StateDamaged, StateLost:
		return true
	}
	return false
}

// NextOnInitiate returns the in-transit state entered when a handshake opens
// from s, or false when s cannot initiate a transfer.
func NextOnInitiate(s State) (State, bool) {
	next, ok := initiateNext[s]
	return next, ok
}

// NextOnConfirm returns the state entered when a receiver holding r confirms
// custody, or false when r is not a transit role.
func NextOnConfirm(r role.Role) (State, bool) {
	next, ok := confirmNext[r]
	return next, ok
}

// ParseState converts a wire string into a State.
func ParseState(raw string) (State, error) {
	candidate := State(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range States {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown item state %q", raw)
}

// Index returns the position of s in the canonical ordering, matching the
// persisted enum layout. Unknown states return -1.
func (s State) Index() int {
	for i, known := range States {
		if known == s {
			return i
		}
	}
	return -1
}

func (s State) String() string { return string(s) }
