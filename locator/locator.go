// Package locator provides the IRI reference type used to address constructs
// and subjects in a topic map.
//
// A Locator is an immutable value holding an absolute IRI in its normalised
// external form. Two locators are equal when their external forms are equal,
// so callers may compare them with == or Equal.
//
//	loc, err := locator.New("HTTP://Example.org:80/a/./b/../c")
//	// loc.Reference() == "http://example.org/a/c"
//
// The zero Locator represents the absence of a locator. Operations that
// require a locator reject it.
package locator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Well-known locators of the Topic Maps Data Model and XML Schema datatypes.
const (
	// XSDString is the datatype of string values.
	XSDString = "http://www.w3.org/2001/XMLSchema#string"

	// XSDAnyURI is the datatype of locator values.
	XSDAnyURI = "http://www.w3.org/2001/XMLSchema#anyURI"

	// TopicNamePSI identifies the default name type.
	TopicNamePSI = "http://psi.topicmaps.org/iso13250/model/topic-name"
)

var (
	// ErrEmptyReference is returned when a locator is built from an empty string.
	ErrEmptyReference = errors.New("locator: empty reference")

	// ErrRelativeReference is returned when a reference has no scheme.
	ErrRelativeReference = errors.New("locator: reference is not absolute")
)

// Locator is an absolute IRI reference in external form.
type Locator struct {
	ref string
}

// New parses ref and returns its normalised locator.
func New(ref string) (Locator, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Locator{}, ErrEmptyReference
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Locator{}, fmt.Errorf("locator: parse %q: %w", ref, err)
	}
	if !u.IsAbs() {
		return Locator{}, fmt.Errorf("%w: %q", ErrRelativeReference, ref)
	}
	return Locator{ref: normalize(u)}, nil
}

// MustNew is like New but panics on error. Intended for constants and tests.
func MustNew(ref string) Locator {
	loc, err := New(ref)
	if err != nil {
		panic(err)
	}
	return loc
}

// Resolve resolves ref against l. Absolute references are returned normalised;
// fragment-only and relative references inherit l's scheme, host and path.
func (l Locator) Resolve(ref string) (Locator, error) {
	if l.IsZero() {
		return New(ref)
	}
	base, err := url.Parse(l.ref)
	if err != nil {
		return Locator{}, fmt.Errorf("locator: parse base %q: %w", l.ref, err)
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Locator{}, fmt.Errorf("locator: parse %q: %w", ref, err)
	}
	return Locator{ref: normalize(base.ResolveReference(rel))}, nil
}

// Reference returns the external form of the locator.
func (l Locator) Reference() string { return l.ref }

// String implements fmt.Stringer.
func (l Locator) String() string { return l.ref }

// IsZero reports whether l is the zero Locator.
func (l Locator) IsZero() bool { return l.ref == "" }

// Equal reports whether l and other have the same external form.
func (l Locator) Equal(other Locator) bool { return l.ref == other.ref }

// MarshalText implements encoding.TextMarshaler.
func (l Locator) MarshalText() ([]byte, error) { return []byte(l.ref), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Locator) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*l = Locator{}
		return nil
	}
	parsed, err := New(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	if n.Host != "" {
		host := strings.ToLower(n.Hostname())
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		if port := n.Port(); port != "" && port != defaultPort(n.Scheme) {
			host = host + ":" + port
		}
		n.Host = host
	}
	if n.Opaque == "" {
		// Dot segments are removed on the escaped form so that an encoded
		// slash stays part of its segment.
		escaped := removeDotSegments(u.EscapedPath())
		if n.Host != "" && escaped == "" {
			escaped = "/"
		}
		if path, err := url.PathUnescape(escaped); err == nil {
			n.Path, n.RawPath = path, escaped
		} else {
			n.Path, n.RawPath = removeDotSegments(n.Path), ""
		}
	}
	return n.String()
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	case "ftp":
		return "21"
	}
	return ""
}

// removeDotSegments implements RFC 3986 section 5.2.4.
func removeDotSegments(path string) string {
	if !strings.Contains(path, ".") {
		return path
	}
	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case ".":
			if last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}
