// Package deeplink builds and parses shareable verification links.
package deeplink

import (
	"net/url"
	"strings"

	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

// QueryParam carries the credential identifier.
const QueryParam = "tokenId"

// Build returns <base>/verify?tokenId=<id>.
func Build(base string, id domain.TokenID) string {
	return strings.TrimRight(base, "/") + "/verify?" + QueryParam + "=" + url.QueryEscape(id.String())
}

// Parse extracts the raw identifier from a link. The value is returned
// unvalidated so it goes through the same parsing as typed input.
func Parse(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "verification link is malformed")
	}
	q := u.Query()
	if !q.Has(QueryParam) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "verification link has no token id")
	}
	return q.Get(QueryParam), nil
}
