package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mssola/useragent"
)

const mobileDappLinkBase = "https://metamask.app.link/dapp/"

// IsMobileUserAgent reports whether the caller is on a phone or tablet, where
// no browser extension can inject a provider.
func IsMobileUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	parsed := useragent.New(ua)
	if parsed.Mobile() {
		return true
	}
	// iPadOS and some Android tablets report a desktop-class UA without the
	// Mobile token.
	return strings.Contains(strings.ToLower(parsed.Platform()), "ipad") ||
		strings.Contains(strings.ToLower(parsed.OS()), "android")
}

// MobileDeepLink builds the link that opens pageURL inside the mobile wallet
// app, which then injects its provider.
func MobileDeepLink(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("deep link: invalid page url %q", pageURL)
	}
	target := u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return mobileDappLinkBase + target, nil
}
