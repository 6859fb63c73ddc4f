// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

// Package textutil groups the text helpers used around the geocoder: search
// matching, street line splitting and Argentine tax id handling.
package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LowerASCIIFolding normalizes a string by removing accents, lowercasing, and trimming spaces.
//
// It is meant for search matching only. Geocoding queries keep the user's
// spelling untouched.
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// ContainsFolded reports whether needle appears in haystack, ignoring case and accents.
func ContainsFolded(haystack, needle string) bool {
	return strings.Contains(LowerASCIIFolding(haystack), LowerASCIIFolding(needle))
}

var trailingNumber = regexp.MustCompile(`^(.*?)\s+(\d+[a-zA-Z]?|S/N|s/n)$`)

// SplitAddress splits a street line into street name and house number. The
// house number is the last token when it is numeric (optionally followed by
// a letter) or the "S/N" placeholder; otherwise the whole line is the street.
func SplitAddress(full string) (street, number string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}

	if m := trailingNumber.FindStringSubmatch(full); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}

	return full, ""
}

func cuitDigits(cuit string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}

		return r
	}, cuit)
}

// IsValidCUIT checks the shape of a CUIT: eleven digits once dashes and
// spaces are removed. The check digit is not verified.
func IsValidCUIT(cuit string) bool {
	cleaned := cuitDigits(cuit)
	if len(cleaned) != 11 {
		return false
	}

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// FormatCUIT renders a CUIT as XX-XXXXXXXX-X. Inputs without exactly eleven
// digits are returned unchanged.
func FormatCUIT(cuit string) string {
	var b strings.Builder

	for _, r := range cuit {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	if len(cleaned) != 11 {
		return cuit
	}

	return cleaned[0:2] + "-" + cleaned[2:10] + "-" + cleaned[10:]
}

// FormatInt formats an integer with commas for human readability.
func FormatInt(n int64) string {
	in := strconv.FormatInt(n, 10)

	numOfDigits := len(in)
	if n < 0 {
		numOfDigits-- // First character is the - sign (not a digit)
	}

	numOfCommas := (numOfDigits - 1) / 3

	out := make([]byte, len(in)+numOfCommas)
	if n < 0 {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]
		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = ','
		}
	}
}
