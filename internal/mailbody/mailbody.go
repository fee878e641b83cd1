// Package mailbody pulls the plain-text body out of raw RFC 5322 payloads.
//
// It is a best-effort heuristic rather than a MIME parser: the payload is
// cut at all of its boundary markers, the first part that declares
// text/plain wins, and anything that does not fit falls back to the whole decoded payload.
package mailbody

import (
	"bufio"
	"github.com/emersion/go-message"
	// registers non-UTF-8 charsets for message.New
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"io"
	"mime"
	"regexp"
	"slices"
	"sort"
	"strings"
)

var (
	boundaryParam = regexp.MustCompile(`(?i)boundary="?([^";\r\n]+)"?`)
	plainTextType = regexp.MustCompile(`(?im)^content-type:\s*text/plain`)
)

// Extract returns the plain-text body of raw, or the whole decoded payload
// when no text/plain part can be found.
func Extract(raw []byte) string {
	text := Decode(raw)
	if body, ok := FindPlainText(text); ok {
		return body
	}
	return text
}

// Decode converts b to a string, replacing ill-formed UTF-8 with U+FFFD.
func Decode(b []byte) string {
	s, _, err := transform.String(runes.ReplaceIllFormed(), string(b))
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return s
}

// FindPlainText looks for the first part of text whose headers declare a
// text/plain content type and returns everything after its header block.
func FindPlainText(text string) (string, bool) {
	for _, part := range splitParts(text) {
		header, body, ok := cutHeader(part)
		if !ok || !plainTextType.MatchString(header) {
			continue
		}
		return decodePart(header, body), true
	}
	return "", false
}

// splitParts cuts text at every declared multipart boundary, so parts of
// nested multiparts come out flat. Payloads without a boundary parameter are
// a single part.
func splitParts(text string) []string {
	var boundaries []string
	for _, m := range boundaryParam.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(boundaries, m[1]) {
			boundaries = append(boundaries, m[1])
		}
	}

	// longest first, so "b" never cuts into "--b2"
	sort.SliceStable(boundaries, func(i, j int) bool {
		return len(boundaries[i]) > len(boundaries[j])
	})

	parts := []string{text}
	for _, b := range boundaries {
		var next []string
		for _, part := range parts {
			next = append(next, strings.Split(part, "--"+b)...)
		}
		parts = next
	}
	return parts
}

// cutHeader splits a part at its first blank line. Both CRLF and bare LF
// payloads are accepted.
func cutHeader(part string) (header, body string, ok bool) {
	part = strings.TrimLeft(part, "\r\n")

	crlf := strings.Index(part, "\r\n\r\n")
	lf := strings.Index(part, "\n\n")

	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return part[:crlf], part[crlf+4:], true
	case lf >= 0:
		return part[:lf], part[lf+2:], true
	default:
		return "", "", false
	}
}

// decodePart undoes the part's transfer encoding and charset. Any failure
// keeps the segment text as it was found.
func decodePart(header, body string) string {
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(header + "\r\n\r\n")))
	if err != nil {
		return body
	}

	if isIdentity(h) {
		return body
	}

	entity, err := message.New(message.Header{Header: h}, strings.NewReader(body))
	if entity == nil || (err != nil && !message.IsUnknownCharset(err)) {
		return body
	}

	decoded, err := io.ReadAll(entity.Body)
	if err != nil {
		return body
	}
	return Decode(decoded)
}

func isIdentity(h textproto.Header) bool {
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "", "7bit", "8bit", "binary":
	default:
		return false
	}

	_, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return true
	}
	switch strings.ToLower(params["charset"]) {
	case "", "utf-8", "utf8", "us-ascii":
		return true
	}
	return false
}
