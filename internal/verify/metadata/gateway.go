package metadata

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

const ipfsScheme = "ipfs://"

// GatewayURL translates a content-addressed URI into a fetchable URL on
// gateway. Accepted forms are ipfs://<cid>[/path], ipfs://ipfs/<cid>[/path],
// /ipfs/<cid>[/path] and a bare CID. http and https URIs pass through
// unchanged. The CID must decode.
func GatewayURL(gateway, uri string) (string, error) {
	s := strings.TrimSpace(uri)
	if s == "" {
		return "", fmt.Errorf("metadata uri is empty")
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return s, nil
	}

	var rest string
	switch {
	case strings.HasPrefix(lower, ipfsScheme):
		rest = s[len(ipfsScheme):]
		if strings.HasPrefix(strings.ToLower(rest), "ipfs/") {
			rest = rest[len("ipfs/"):]
		}
	case strings.HasPrefix(lower, "/ipfs/"):
		rest = s[len("/ipfs/"):]
	case strings.Contains(s, "://"):
		return "", fmt.Errorf("unsupported metadata uri scheme in %q", s)
	default:
		rest = s
	}

	id, path, _ := strings.Cut(rest, "/")
	if _, err := cid.Decode(id); err != nil {
		return "", fmt.Errorf("invalid content id %q: %w", id, err)
	}
	out := strings.TrimRight(gateway, "/") + "/ipfs/" + id
	if path != "" {
		out += "/" + path
	}
	return out, nil
}

// IsContentAddressed reports whether uri needs a gateway.
func IsContentAddressed(uri string) bool {
	lower := strings.ToLower(strings.TrimSpace(uri))
	return lower != "" && !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://")
}
