package util

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"mailtally/internal/model"
)

// Loose address patterns for headers net/mail refuses, e.g. unquoted display
// names with special characters.
var (
	bracketedAddr = regexp.MustCompile(`^[^<]*<?([\w\-\.]+@([\w-]+\.)+[\w-]{2,4}).*$`)
	bareAddr      = regexp.MustCompile(`^([\w\-\.]+@([\w-]+\.)+[\w-]{2,4})$`)
)

// NormalizeSender extracts and normalizes an email address from a From header.
// - Parses RFC 5322 "From" values like "Name <user+alias@Example.COM>"
// - Lowercases
// - Strips +alias in local part: user+news@x.com -> user@x.com
// Returns empty string if parsing fails or address is missing.
func NormalizeSender(fromHeader string) string {
	if fromHeader == "" {
		return ""
	}
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil || addr == nil {
		// Some headers may be a list; try a crude fallback by splitting on comma.
		parts := strings.Split(fromHeader, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			a, e := mail.ParseAddress(p)
			if e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}
	return canonicalAddress(addr.Address)
}

// SenderIdentity maps a raw header value to the identity counted in the
// aggregate. Unlike NormalizeSender it never returns "": unparsable values
// fall back to a loose address match, then to the lowercased raw value, and
// a header with no letters or digits (empty, or a null path such as "<>")
// becomes model.UnknownSender.
func SenderIdentity(header string) string {
	header = strings.TrimSpace(header)
	if !strings.ContainsFunc(header, isAddressRune) {
		return model.UnknownSender
	}
	if s := NormalizeSender(header); s != "" {
		return s
	}
	re := bareAddr
	if strings.Contains(header, "<") {
		re = bracketedAddr
	}
	if m := re.FindStringSubmatch(header); len(m) > 1 {
		return canonicalAddress(m[1])
	}
	return strings.ToLower(header)
}

func isAddressRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// SenderHeader picks the header that identifies the sender: From (any case),
// falling back to Return-Path. headers maps header name to value as returned
// by the provider.
func SenderHeader(headers map[string]string) string {
	var returnPath string
	for name, v := range headers {
		switch strings.ToLower(name) {
		case "from":
			if strings.TrimSpace(v) != "" {
				return v
			}
		case "return-path":
			returnPath = v
		}
	}
	return returnPath
}

func canonicalAddress(address string) string {
	email := strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at+1:]

	// Strip +alias in local part.
	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}
	// Some providers ignore dots in local part (e.g., Gmail). We WON'T remove dots
	// by default to avoid over-grouping across providers. Keep dots as-is.

	return local + "@" + domain
}
