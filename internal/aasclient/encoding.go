// Package aasclient implements the HTTP client collaborator that talks to a
// local AAS server: identifier base64url encoding, idShortPath
// percent-encoding, and the GET/PATCH verbs the repository API requires.
package aasclient

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// EncodeIDBase64URL encodes an AAS identifier (aas_id or submodel_id) as
// base64url without padding, as required for the identifier path segment.
func EncodeIDBase64URL(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeIDBase64URL decodes an identifier produced by EncodeIDBase64URL.
func DecodeIDBase64URL(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// needsEscape reports whether r is in the idShortPath escape set: '/',
// space, <>{}%?#", control characters and every non-ASCII rune. All other
// printable ASCII passes through unchanged, including '[' and ']', which
// must survive verbatim so the bracketed list-element notation stays
// readable on the wire.
func needsEscape(r rune) bool {
	switch r {
	case '[', ']':
		return false
	case ' ', '<', '>', '{', '}', '%', '?', '#', '"', '/':
		return true
	default:
		return r < 0x20 || r > 0x7e
	}
}

// EncodeIDShortPath percent-encodes an idShortPath for use as a URL path
// segment, preserving '[' and ']' so bracketed list-element ids stay
// legible, while escaping '/' (which would otherwise be read as a path
// separator) and the remaining reserved/unsafe characters.
func EncodeIDShortPath(path string) string {
	var b strings.Builder
	for _, r := range path {
		if needsEscape(r) {
			for _, c := range []byte(string(r)) {
				b.WriteString("%")
				b.WriteString(strings.ToUpper(byteToHex(c)))
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func byteToHex(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0x0f]})
}

// DecodeIDShortPath reverses EncodeIDShortPath via the standard percent-
// decoder, which is the inverse of the escaping performed above since '['
// and ']' were never encoded.
func DecodeIDShortPath(encoded string) (string, error) {
	return url.PathUnescape(encoded)
}
