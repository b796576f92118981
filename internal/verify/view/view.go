// Package view assembles the display model of a verified credential.
package view

import (
	"time"

	"credverify/internal/verify/deeplink"
	"credverify/internal/verify/metadata"
	"credverify/internal/verify/models"
)

// Status is the verdict shown for a credential.
type Status string

const (
	StatusValid   Status = "valid"
	StatusRevoked Status = "revoked"
)

// Display placeholders.
const (
	DefaultTitle       = "Academic Credential"
	MissingInstitution = "Institution Not Specified"
	MissingField       = "Not Specified"
	DateLayout         = "January 2, 2006"
	defaultElideHead   = 10
	defaultElideTail   = 8
	elisionSeparator   = "..."
)

// ViewModel is everything a credential card or export shows. Display fields
// are never empty.
type ViewModel struct {
	TokenID      string    `json:"token_id"`
	Status       Status    `json:"status"`
	Title        string    `json:"title"`
	Institution  string    `json:"institution"`
	StudentName  string    `json:"student_name"`
	Grade        string    `json:"grade"`
	IssueDate    string    `json:"issue_date"`
	Description  string    `json:"description"`
	Owner        string    `json:"owner"`
	OwnerDisplay string    `json:"owner_display"`
	OwnerAlias   string    `json:"owner_alias,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	MetadataURI  string    `json:"metadata_uri"`
	MetadataURL  string    `json:"metadata_url,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ShareLink    string    `json:"share_link"`

	HasMetadata     bool `json:"has_metadata"`
	MetadataPending bool `json:"metadata_pending"`
	AliasPending    bool `json:"alias_pending"`
}

// Input is what is known about one credential at a point in the pipeline.
type Input struct {
	Record models.CredentialRecord

	Metadata         *models.Metadata
	MetadataResolved bool

	Alias         string
	AliasFound    bool
	AliasResolved bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithElision sets how many leading and trailing characters of an address
// stay visible.
func WithElision(head, tail int) Option {
	return func(a *Assembler) {
		if head > 0 && tail > 0 {
			a.head, a.tail = head, tail
		}
	}
}

// Assembler is pure: the same Input always yields the same ViewModel.
type Assembler struct {
	gateway string
	baseURL string
	head    int
	tail    int
}

// NewAssembler creates an Assembler linking content through gateway and
// building share links under baseURL.
func NewAssembler(gateway, baseURL string, opts ...Option) *Assembler {
	a := &Assembler{
		gateway: gateway,
		baseURL: baseURL,
		head:    defaultElideHead,
		tail:    defaultElideTail,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the view model for in.
func (a *Assembler) Assemble(in Input) ViewModel {
	rec := in.Record
	md := in.Metadata
	if md == nil {
		md = &models.Metadata{}
	}

	vm := ViewModel{
		TokenID:         rec.TokenID.String(),
		Status:          StatusValid,
		Title:           orDefault(md.Title(), DefaultTitle),
		Institution:     orDefault(md.Institution, MissingInstitution),
		StudentName:     orDefault(md.StudentName, MissingField),
		Grade:           orDefault(md.Grade, MissingField),
		Description:     orDefault(md.Description, MissingField),
		IssueDate:       md.IssueDate,
		Owner:           rec.Owner.Hex(),
		MetadataURI:     rec.MetadataURI,
		IssuedAt:        rec.IssuedAt(),
		ShareLink:       deeplink.Build(a.baseURL, rec.TokenID),
		HasMetadata:     in.Metadata != nil,
		MetadataPending: !in.MetadataResolved,
		AliasPending:    !in.AliasResolved,
	}
	if rec.Revoked {
		vm.Status = StatusRevoked
	}
	if vm.IssueDate == "" {
		vm.IssueDate = vm.IssuedAt.Format(DateLayout)
	}

	if in.AliasFound && in.Alias != "" {
		vm.OwnerAlias = in.Alias
		vm.OwnerDisplay = in.Alias
	} else {
		vm.OwnerDisplay = Elide(vm.Owner, a.head, a.tail)
	}

	if u, err := metadata.GatewayURL(a.gateway, rec.MetadataURI); err == nil {
		vm.MetadataURL = u
	}
	if md.Image != "" {
		if u, err := metadata.GatewayURL(a.gateway, md.Image); err == nil {
			vm.ImageURL = u
		}
	}
	return vm
}

// Elide shortens s to its first head and last tail characters.
func Elide(s string, head, tail int) string {
	if len(s) <= head+tail+len(elisionSeparator) {
		return s
	}
	return s[:head] + elisionSeparator + s[len(s)-tail:]
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
