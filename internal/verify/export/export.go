// Package export renders a credential view model to a portable document.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"credverify/internal/verify/view"
	dErrors "credverify/pkg/domain-errors"
)

// ContentTypePDF is the media type of PDFRenderer output.
const ContentTypePDF = "application/pdf"

// Document is a rendered export.
type Document struct {
	ContentType string
	Filename    string
	Body        []byte
}

// Renderer turns a view model into a document without network access.
type Renderer interface {
	Render(vm view.ViewModel) (Document, error)
}

// Option configures a PDFRenderer.
type Option func(*PDFRenderer)

// WithClock fixes the document creation time.
func WithClock(now func() time.Time) Option {
	return func(r *PDFRenderer) {
		r.now = now
	}
}

// PDFRenderer renders an A4 credential certificate.
type PDFRenderer struct {
	now func() time.Time
}

// NewPDFRenderer creates a PDFRenderer.
func NewPDFRenderer(opts ...Option) *PDFRenderer {
	r := &PDFRenderer{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rgb struct{ r, g, b int }

var (
	validColor   = rgb{22, 128, 61}
	revokedColor = rgb{185, 28, 28}
	labelColor   = rgb{100, 100, 100}
	textColor    = rgb{17, 24, 39}
)

// Render implements Renderer. Any rendering failure, including a panic in
// the PDF library, is reported as CodeExportFailed.
func (r *PDFRenderer) Render(vm view.ViewModel) (doc Document, err error) {
	if vm.TokenID == "" || vm.Status == "" {
		return Document{}, dErrors.New(dErrors.CodeExportFailed, "credential view is incomplete")
	}
	defer func() {
		if rec := recover(); rec != nil {
			doc = Document{}
			err = dErrors.Wrap(fmt.Errorf("%v", rec), dErrors.CodeExportFailed, "rendering the credential failed")
		}
	}()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(r.now().UTC())
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(vm.Title), false)
	pdf.SetSubject(tr("Credential "+vm.TokenID), false)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	content := width - left - right

	banner := validColor
	verdict := "VALID CREDENTIAL"
	if vm.Status == view.StatusRevoked {
		banner = revokedColor
		verdict = "REVOKED CREDENTIAL"
	}
	pdf.SetFillColor(banner.r, banner.g, banner.b)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(content, 14, verdict, "", 1, "C", true, 0, "")
	pdf.Ln(8)

	pdf.SetTextColor(textColor.r, textColor.g, textColor.b)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.MultiCell(content, 10, tr(vm.Title), "", "C", false)
	pdf.SetFont("Helvetica", "", 13)
	pdf.MultiCell(content, 7, tr(vm.Institution), "", "C", false)
	pdf.Ln(8)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(labelColor.r, labelColor.g, labelColor.b)
		pdf.CellFormat(content, 5, label, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.SetTextColor(textColor.r, textColor.g, textColor.b)
		pdf.MultiCell(content, 6, tr(value), "", "L", false)
		pdf.Ln(3)
	}
	field("Credential ID", "#"+vm.TokenID)
	field("Student", vm.StudentName)
	field("Grade", vm.Grade)
	field("Issue Date", vm.IssueDate)
	field("Description", vm.Description)
	field("Owner", vm.OwnerDisplay)
	if vm.OwnerAlias != "" {
		field("Owner Address", vm.Owner)
	}
	if vm.MetadataURI != "" {
		field("Metadata", vm.MetadataURI)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(labelColor.r, labelColor.g, labelColor.b)
	pdf.CellFormat(content, 5, "Verify online", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "U", 10)
	pdf.SetTextColor(37, 99, 235)
	pdf.WriteLinkString(5, vm.ShareLink, vm.ShareLink)

	if pdf.Err() {
		return Document{}, dErrors.Wrap(pdf.Error(), dErrors.CodeExportFailed, "rendering the credential failed")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, dErrors.Wrap(err, dErrors.CodeExportFailed, "rendering the credential failed")
	}
	return Document{
		ContentType: ContentTypePDF,
		Filename:    "credential-" + vm.TokenID + ".pdf",
		Body:        buf.Bytes(),
	}, nil
}
