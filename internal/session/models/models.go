package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected    Status = "disconnected"
	StatusConnecting      Status = "connecting"
	StatusNetworkMismatch Status = "network_mismatch"
	StatusConnected       Status = "connected"
	StatusFailed          Status = "failed"
)

// Roles are the caller's authorization categories on the ledger. They are
// only meaningful while connected.
type Roles struct {
	IsIssuer bool `json:"is_issuer"`
	IsAdmin  bool `json:"is_admin"`
}

// ErrorInfo is the failure reported for the last connect attempt.
type ErrorInfo struct {
	Code    dErrors.Code `json:"code"`
	Message string       `json:"message"`
}

// NewErrorInfo summarizes err for display.
func NewErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{Code: dErrors.CodeOf(err), Message: dErrors.MessageOf(err)}
}

// Session is a snapshot of the wallet session. Account is set iff Status is
// StatusConnected.
type Session struct {
	Status     Status          `json:"status"`
	Account    *common.Address `json:"account,omitempty"`
	ChainID    *domain.ChainID `json:"chain_id,omitempty"`
	Roles      Roles           `json:"roles"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	Generation uint64          `json:"generation"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsConnected reports whether the session holds a usable account.
func (s Session) IsConnected() bool {
	return s.Status == StatusConnected && s.Account != nil
}
