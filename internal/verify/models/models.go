package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"credverify/pkg/domain"
)

// CredentialRecord is the ledger state of one credential, exactly as read.
type CredentialRecord struct {
	TokenID     domain.TokenID
	Owner       common.Address
	MetadataURI string
	// IssueTimestamp is unix seconds as stored on the ledger.
	IssueTimestamp uint64
	// Revoked only ever moves from false to true.
	Revoked bool
}

// IssuedAt converts the ledger timestamp.
func (r CredentialRecord) IssuedAt() time.Time {
	return time.Unix(int64(r.IssueTimestamp), 0).UTC()
}

// Metadata is the off-chain document a credential points at. Every field is
// optional; zero values mean the document did not carry it.
type Metadata struct {
	Degree      string `json:"degree,omitempty"`
	Name        string `json:"name,omitempty"`
	Institution string `json:"institution,omitempty"`
	StudentName string `json:"studentName,omitempty"`
	Grade       string `json:"grade,omitempty"`
	IssueDate   string `json:"issueDate,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Title is the credential's display title, preferring degree over name.
func (m *Metadata) Title() string {
	if m == nil {
		return ""
	}
	if m.Degree != "" {
		return m.Degree
	}
	return m.Name
}
