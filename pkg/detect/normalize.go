package detect

import (
	"encoding/base64"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Trace entry names, recorded in the order transformations were applied.
// Stable strings: they end up in audit logs.
const (
	TraceURLDecode      = "url_decode"
	TraceHTMLEntities   = "html_entities"
	TraceNFKC           = "unicode_nfkc"
	TraceUnicodeEscapes = "unicode_escapes"
	TraceZeroWidth      = "zero_width_strip"
	TraceControlChars   = "control_strip"
	TraceWhitespace     = "whitespace_collapse"
	TraceBase64Flag     = "base64_payload_flagged"
)

var (
	reUnicodeEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})|\\U([0-9a-fA-F]{8})`)
	reBase64Segment = regexp.MustCompile(`[A-Za-z0-9+/]{16,}={0,2}`)
	reMultiSpace    = regexp.MustCompile(`[ \t]{2,}`)
)

// base64Keywords are execution verbs and override markers that make a
// decoded base64 segment worth flagging. Decoding happens for detection
// only; the decoded text never replaces normalizer output.
var base64Keywords = []string{
	"ignore", "override", "disregard", "bypass",
	"exec", "eval", "system", "shell",
	"curl", "wget", "rm -rf",
	"reveal", "prompt", "instructions",
}

// Normalize decodes common obfuscation layers from raw input and returns
// the normalized text along with a trace of every transformation that
// actually changed the text. It never fails: unparsable segments are left
// unchanged and the pipeline continues.
//
// The transformation order is fixed so that identical inputs always yield
// identical normalized output (the rule tier and the cache both depend on
// this).
func Normalize(raw string) (string, []string) {
	text := raw
	var trace []string

	apply := func(name string, fn func(string) string) {
		out := fn(text)
		if out != text {
			text = out
			trace = append(trace, name)
		}
	}

	apply(TraceURLDecode, decodeURL)
	apply(TraceHTMLEntities, decodeHTMLEntities)
	apply(TraceNFKC, norm.NFKC.String)
	apply(TraceUnicodeEscapes, decodeUnicodeEscapes)
	apply(TraceZeroWidth, stripZeroWidth)
	apply(TraceControlChars, stripControl)
	apply(TraceWhitespace, collapseWhitespace)

	if flagBase64Payload(text) {
		trace = append(trace, TraceBase64Flag)
	}

	return text, trace
}

func decodeURL(text string) string {
	if !strings.Contains(text, "%") {
		return text
	}
	decoded, err := url.QueryUnescape(text)
	if err != nil || !utf8.ValidString(decoded) {
		return text
	}
	return decoded
}

func decodeHTMLEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return html.UnescapeString(text)
}

func decodeUnicodeEscapes(text string) string {
	if !reUnicodeEscape.MatchString(text) {
		return text
	}
	return reUnicodeEscape.ReplaceAllStringFunc(text, func(match string) string {
		codePoint, err := strconv.ParseInt(match[2:], 16, 32)
		if err != nil || codePoint < 0 || codePoint > 0x10FFFF {
			return match
		}
		if !utf8.ValidRune(rune(codePoint)) {
			return match
		}
		return string(rune(codePoint))
	})
}

// stripZeroWidth removes zero-width and other invisible format characters
// (ZWSP, ZWNJ, ZWJ, BOM, directional marks) that attackers intersperse to
// defeat substring matching.
func stripZeroWidth(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) || r == 0xFE0E || r == 0xFE0F {
			return -1
		}
		return r
	}, text)
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
}

func collapseWhitespace(text string) string {
	collapsed := reMultiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(collapsed)
}

// flagBase64Payload reports whether the text carries a base64 segment
// that decodes to printable text containing a dangerous keyword. The
// segment is decoded for detection only.
func flagBase64Payload(text string) bool {
	for _, match := range reBase64Segment.FindAllString(text, -1) {
		decoded, err := base64.StdEncoding.DecodeString(match)
		if err != nil {
			continue
		}
		s := string(decoded)
		if !isPrintable(s) {
			continue
		}
		lower := strings.ToLower(s)
		for _, kw := range base64Keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func isPrintable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return len(s) > 0
}
