// Package identity turns the evidence attached to one vote request into the
// set of identifier strings the dedup ledger and throttles key on.
package identity

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	unknown = "unknown"

	fingerprintLen = 32
	visitorLen     = 40
)

// Evidence is everything a request tells us about who sent it. Body fields
// come from the client; header fields from the transport.
type Evidence struct {
	Fingerprint string
	VisitorID   string
	ScreenRes   string
	Timezone    string

	UserAgent    string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
}

// Set holds the identifiers derived for one request. Empty fields were not
// derivable from the evidence.
type Set struct {
	Fingerprint string
	Visitor     string
	UserAgent   string
	Device      string
	Address     string
}

// All returns every present identifier in strength order.
func (s Set) All() []string {
	return compact(s.Fingerprint, s.Visitor, s.UserAgent, s.Device, s.Address)
}

// Durable returns the identifiers that are recorded permanently once they
// cast a vote. The address identifier is excluded because it is governed by
// an expiring per-address lock instead.
func (s Set) Durable() []string {
	return compact(s.Fingerprint, s.Visitor, s.UserAgent, s.Device)
}

func compact(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Resolve derives the identifier set. It never fails; missing evidence
// simply drops the identifier it would have produced.
func Resolve(ev Evidence) Set {
	var s Set
	if ev.Fingerprint != "" {
		s.Fingerprint = "fp:" + truncate(ev.Fingerprint, fingerprintLen)
	}
	if ev.VisitorID != "" {
		s.Visitor = "vid:" + truncate(ev.VisitorID, visitorLen)
	}
	ua := ev.UserAgent
	if ua == "" {
		ua = unknown
	}
	s.UserAgent = "ua:" + Hash(ua)
	if ev.ScreenRes != "" && ev.Timezone != "" {
		s.Device = "dev:" + Hash(ev.ScreenRes+ev.Timezone)
	}
	s.Address = "ip:" + Hash(ClientAddress(ev))
	return s
}

// ClientAddress picks the network address for a request: first entry of
// X-Forwarded-For, then X-Real-Ip, then the connection's remote host.
func ClientAddress(ev Evidence) string {
	if ev.ForwardedFor != "" {
		first, _, _ := strings.Cut(ev.ForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(ev.RealIP); rip != "" {
		return rip
	}
	if ev.RemoteAddr != "" {
		return stripPort(ev.RemoteAddr)
	}
	return unknown
}

func stripPort(addr string) string {
	if strings.HasPrefix(addr, "[") {
		if end := strings.Index(addr, "]"); end > 0 {
			return addr[1:end]
		}
	}
	if strings.Count(addr, ":") == 1 {
		host, _, _ := strings.Cut(addr, ":")
		return host
	}
	return addr
}

// truncate keeps the first n UTF-16 code units, the same units Hash runs over.
func truncate(s string, n int) string {
	u := utf16.Encode([]rune(s))
	if len(u) <= n {
		return s
	}
	return string(utf16.Decode(u[:n]))
}

// Hash is a 32-bit multiplicative string hash (h*31 + c over UTF-16 code
// units) rendered in base 36. It is a compact stable key, not a secret.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
