// Package urlnorm canonicalises navigation targets and policy entries so that
// case, scheme, port, and "www." variations cannot slip past a list lookup.
package urlnorm

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// MalformedURLError reports input that cannot be parsed into a navigable
// http(s) target.
type MalformedURLError struct {
	Input  string
	Reason string
	Err    error
}

func (e *MalformedURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed url %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed url %q: %s", e.Input, e.Reason)
}

func (e *MalformedURLError) Unwrap() error { return e.Err }

// Target is a parsed, lowercased http(s) destination.
type Target struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  string
}

// NormalizeInput turns an address as typed into the address bar into an
// absolute URL. A missing scheme defaults to https.
func NormalizeInput(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}
	if strings.Contains(s, "://") || strings.HasPrefix(lower, "about:") ||
		strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return s
	}
	return "https://" + s
}

// Parse validates raw as an http(s) URL and returns its canonical parts.
func Parse(raw string) (*Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &MalformedURLError{Input: raw, Reason: "empty"}
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, &MalformedURLError{Input: raw, Reason: "parse", Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &MalformedURLError{Input: raw, Reason: "unsupported scheme " + strconv.Quote(scheme)}
	}
	host := canonicalHost(u.Hostname())
	if host == "" {
		return nil, &MalformedURLError{Input: raw, Reason: "missing host"}
	}

	path := u.EscapedPath()
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	query := u.RawQuery
	if q, err := url.QueryUnescape(query); err == nil {
		query = q
	}

	return &Target{
		Raw:    s,
		Scheme: scheme,
		Host:   host,
		Path:   strings.ToLower(strings.TrimRight(path, "/")),
		Query:  strings.ToLower(query),
	}, nil
}

// Entry returns the canonical form stored in the block and allow lists:
// lowercase host without scheme, port, or leading "www.", followed by an
// optional lowercase path without trailing slash.
func Entry(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &MalformedURLError{Input: raw, Reason: "empty"}
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(t.Host, "www.")
	if host == "" {
		return "", &MalformedURLError{Input: raw, Reason: "missing host"}
	}
	if isPublicSuffix(host) {
		return "", &MalformedURLError{Input: raw, Reason: "entry is a public suffix"}
	}
	if t.Path == "" {
		return host, nil
	}
	return host + t.Path, nil
}

// Candidates lists every list key that covers t: each parent domain of the
// host, alone and combined with each leading segment run of the path.
// "a.kiddle.co/games/x" yields "a.kiddle.co", "a.kiddle.co/games",
// "a.kiddle.co/games/x", "kiddle.co", "kiddle.co/games", ...
func (t *Target) Candidates() []string {
	host := strings.TrimPrefix(t.Host, "www.")
	var segments []string
	for _, seg := range strings.Split(strings.Trim(t.Path, "/"), "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	var out []string
	for h := host; h != ""; {
		out = append(out, h)
		prefix := h
		for _, seg := range segments {
			prefix += "/" + seg
			out = append(out, prefix)
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	return out
}

// MatchText is the decoded, lowercased host, path, and query used for
// keyword matching. The scheme is excluded.
func (t *Target) MatchText() string {
	var b strings.Builder
	b.WriteString(t.Host)
	b.WriteString(t.Path)
	if t.Query != "" {
		b.WriteByte('?')
		b.WriteString(t.Query)
	}
	return b.String()
}

// String renders the canonical URL.
func (t *Target) String() string {
	u := url.URL{Scheme: t.Scheme, Host: t.Host, Path: t.Path}
	if t.Query != "" {
		u.RawQuery = t.Query
	}
	return u.String()
}

func canonicalHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimSuffix(h, ".")
}

// isPublicSuffix reports whether host is itself a public suffix such as
// "com" or "co.uk"; listing one would cover every site beneath it.
func isPublicSuffix(host string) bool {
	if host == "localhost" || net.ParseIP(host) != nil {
		return false
	}
	_, err := publicsuffix.Domain(host)
	return err != nil
}
