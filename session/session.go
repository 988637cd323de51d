// Package session owns SIP accounts and the calls placed from them.
//
// Accounts are keyed by username@domain. Each account may have at most one
// call that has not terminated. Calls move initiated → connected →
// terminated, or straight from initiated to terminated; terminated is final.
//
// Every mutation is published on the event bus. Locks are per entity and are
// always taken account first, then call.
package session

import (
	"strings"
	"time"
)

// AccountStatus is the registration state of an account.
type AccountStatus string

const (
	StatusUnregistered AccountStatus = "unregistered"
	StatusRegistered   AccountStatus = "registered"
	StatusFailed       AccountStatus = "failed"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusUnregistered, StatusRegistered, StatusFailed:
		return true
	}
	return false
}

// CallState is where a call is in its lifecycle.
type CallState string

const (
	CallInitiated  CallState = "initiated"
	CallConnected  CallState = "connected"
	CallTerminated CallState = "terminated"
)

// Account is a SIP endpoint. The password is write-only and never encoded.
type Account struct {
	ID           string        `json:"accountId"`
	Domain       string        `json:"domain"`
	Username     string        `json:"username"`
	Password     string        `json:"-"`
	RegistrarURI string        `json:"registrarUri,omitempty"`
	AgentID      string        `json:"agentId,omitempty"`
	Status       AccountStatus `json:"status"`
	ActiveCallID int64         `json:"activeCallId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// AccountSpec is the client-supplied part of an account.
type AccountSpec struct {
	Domain       string `json:"domain"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	RegistrarURI string `json:"registrarUri"`
	AgentID      string `json:"agentId"`
}

// Normalize trims surrounding whitespace from every field.
func (s AccountSpec) Normalize() AccountSpec {
	return AccountSpec{
		Domain:       strings.TrimSpace(s.Domain),
		Username:     strings.TrimSpace(s.Username),
		Password:     s.Password,
		RegistrarURI: strings.TrimSpace(s.RegistrarURI),
		AgentID:      strings.TrimSpace(s.AgentID),
	}
}

// AccountID builds the account identity.
func AccountID(username, domain string) string {
	return username + "@" + domain
}

// Call is one outbound call.
type Call struct {
	ID        int64      `json:"callId"`
	AccountID string     `json:"accountId"`
	DestURI   string     `json:"destUri"`
	AgentID   string     `json:"agentId,omitempty"` // agent bound to the account when the call was placed
	State     CallState  `json:"state"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
