package evasive

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Variants returns rawURL followed by its scheme and www-prefix permutations,
// de-duplicated in order. IP literals and localhost never get a www variant.
func Variants(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported url %q", rawURL)
	}

	hosts := []string{u.Host}
	if alt, ok := toggleWWW(u); ok {
		hosts = append(hosts, alt)
	}

	out := []string{u.String()}
	seen := map[string]struct{}{out[0]: {}}
	for _, scheme := range []string{"https", "http"} {
		for _, host := range hosts {
			v := *u
			v.Scheme = scheme
			v.Host = host
			s := v.String()
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

func toggleWWW(u *url.URL) (string, bool) {
	hostname := u.Hostname()
	if hostname == "" || hostname == "localhost" || net.ParseIP(hostname) != nil {
		return "", false
	}
	var alt string
	if strings.HasPrefix(strings.ToLower(hostname), "www.") {
		alt = hostname[len("www."):]
	} else {
		alt = "www." + hostname
	}
	if port := u.Port(); port != "" {
		alt = net.JoinHostPort(alt, port)
	}
	return alt, true
}
