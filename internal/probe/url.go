package probe

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// normalizeStreamURL validates and IDNA-normalizes a stream URL's host
// before it's handed to the inspector subprocess, the same defense the
// teacher applies to outbound URLs before dialing them: ffmpeg is an
// external process driven by upstream-supplied URLs, so a malformed or
// homograph-spoofed host should fail fast rather than reach exec.Command.
func normalizeStreamURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("stream url is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("stream url missing scheme or host: %s", raw)
	}

	host := u.Hostname()
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Not every scheme carries a DNS-style hostname (e.g. raw IPs fail
		// idna.Lookup's stricter validation); fall back to the literal host
		// rather than rejecting a perfectly routable URL.
		return u.String(), nil
	}
	if port := u.Port(); port != "" {
		u.Host = ascii + ":" + port
	} else {
		u.Host = ascii
	}
	return u.String(), nil
}
