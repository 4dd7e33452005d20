package didtdw

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDID indicates a string that is not a well-formed did:tdw
// identifier.
var ErrInvalidDID = errors.New("invalid did:tdw identifier")

// DID is a parsed did:tdw identifier:
// did:tdw:<scid>:<domain>[:<port>][/<path>].
type DID struct {
	SCID   string
	Domain string
	Port   int    // 0 when absent
	Path   string // no leading slash, empty when absent
}

// ParseDID parses and validates a did:tdw identifier string.
func ParseDID(s string) (*DID, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 4 || parts[0] != "did" || parts[1] != "tdw" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	scid := parts[2]
	if scid == "" || scid == SCIDPlaceholder {
		return nil, fmt.Errorf("%w: missing scid in %q", ErrInvalidDID, s)
	}

	rest := strings.Join(parts[3:], ":")
	hostPart, path, _ := strings.Cut(rest, "/")

	domain := hostPart
	port := 0
	if host, portStr, ok := strings.Cut(hostPart, ":"); ok {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("%w: bad port in %q", ErrInvalidDID, s)
		}
		domain = host
		port = p
	}
	if domain == "" {
		return nil, fmt.Errorf("%w: missing domain in %q", ErrInvalidDID, s)
	}

	return &DID{SCID: scid, Domain: domain, Port: port, Path: path}, nil
}

// String renders the identifier back to DID syntax.
func (d *DID) String() string {
	var b strings.Builder
	b.WriteString("did:tdw:")
	b.WriteString(d.SCID)
	b.WriteByte(':')
	b.WriteString(d.Domain)
	if d.Port != 0 {
		fmt.Fprintf(&b, ":%d", d.Port)
	}
	if d.Path != "" {
		b.WriteByte('/')
		b.WriteString(d.Path)
	}
	return b.String()
}

func (d *DID) baseURL() string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(d.Domain)
	if d.Port != 0 {
		fmt.Fprintf(&b, ":%d", d.Port)
	}
	if d.Path != "" {
		b.WriteByte('/')
		b.WriteString(d.Path)
	} else {
		b.WriteString("/.well-known")
	}
	return b.String()
}

// LogURL maps the identifier to the HTTPS location of its did.jsonl log.
// Pathless DIDs map to the /.well-known location.
func (d *DID) LogURL() string {
	return d.baseURL() + "/did.jsonl"
}

// WitnessURL maps the identifier to the location of its witness proof
// document, published next to the log.
func (d *DID) WitnessURL() string {
	return d.baseURL() + "/did-witness.json"
}
