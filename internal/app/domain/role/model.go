// Package role defines the closed set of supply-chain capabilities an
// identity can hold.
package role

import (
	"fmt"
	"strings"
)

// Role is a named capability granted to a ledger identity.
type Role string

const (
	Admin       Role = "ADMIN"
	Producer    Role = "PRODUCER"
	Transporter Role = "TRANSPORTER"
	Distributor Role = "DISTRIBUTOR"
	Retailer    Role = "RETAILER"
	Customer    Role = "CUSTOMER"
)

// All lists every defined role in a stable order.
var All = []Role{Admin, Producer, Transporter, Distributor, Retailer, Customer}

// TransitRoles are the roles that may receive custody through the
// initiate/confirm handshake.
var TransitRoles = []Role{Transporter, Distributor, Retailer}

// Parse converts a wire string into a Role.
func Parse(raw string) (Role, error) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, r := range All {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	for _, known := range All {
		if known == r {
			return true
		}
	}
	return false
}

// Transit reports whether r may act as the receiver of a custody handshake.
func (r Role) Transit() bool {
	for _, t := range TransitRoles {
		if t == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }
