// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"fmt"
	"strings"

	"github.com/sendasf/senda/textutil"
)

const country = "Argentina"

// AddressQuery is a structured postal address as typed by a user. Fields may
// be noisy: the number can hold placeholders such as "S/N" and the postal
// code may be empty.
type AddressQuery struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code,omitempty"`
}

// FromStreetLine builds an AddressQuery from a full street line such as
// "Av. Aristóbulo del Valle 6500", splitting off the trailing house number.
func FromStreetLine(line, city, province, postalCode string) AddressQuery {
	street, number := textutil.SplitAddress(line)

	return AddressQuery{
		Street:     street,
		Number:     number,
		City:       city,
		Province:   province,
		PostalCode: postalCode,
	}
}

// String renders the address the way a person would write it.
func (q AddressQuery) String() string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(q.Street))

	if n := strings.TrimSpace(q.Number); n != "" {
		b.WriteString(" ")
		b.WriteString(n)
	}

	fmt.Fprintf(&b, ", %s, %s", strings.TrimSpace(q.City), strings.TrimSpace(q.Province))

	if pc := strings.TrimSpace(q.PostalCode); pc != "" {
		b.WriteString(" ")
		b.WriteString(pc)
	}

	return b.String()
}

// SanitizeNumber returns the digits of a house number. Placeholders meaning
// "no number" ("S/N", "sin número", in any case) yield the empty string.
func SanitizeNumber(number string) string {
	lower := strings.ToLower(number)
	if strings.Contains(lower, "s/n") || strings.Contains(lower, "sin num") {
		return ""
	}

	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}

		return -1
	}, number)
}

// sanitized is the cleaned form of an AddressQuery used to compose lookup
// queries. Street, city and province are only trimmed: their spelling and
// accents are what the lookup provider matches against.
type sanitized struct {
	street     string
	number     string
	city       string
	province   string
	postalCode string
}

func sanitize(q AddressQuery) sanitized {
	return sanitized{
		street:     strings.TrimSpace(q.Street),
		number:     SanitizeNumber(q.Number),
		city:       strings.TrimSpace(q.City),
		province:   strings.TrimSpace(q.Province),
		postalCode: strings.TrimSpace(q.PostalCode),
	}
}

type step struct {
	strategy Strategy
	query    string
}

// deterministic returns the street level strategies whose preconditions
// hold, most precise first.
func (s sanitized) deterministic() []step {
	steps := make([]step, 0, 4)

	if s.postalCode != "" && s.number != "" {
		steps = append(steps, step{
			StrategyPostalNumber,
			fmt.Sprintf("%s %s, %s, %s %s, %s", s.street, s.number, s.city, s.province, s.postalCode, country),
		})
	}

	if s.number != "" {
		steps = append(steps, step{
			StrategyNumber,
			fmt.Sprintf("%s %s, %s, %s, %s", s.street, s.number, s.city, s.province, country),
		})
	}

	if s.postalCode != "" {
		steps = append(steps, step{
			StrategyPostalStreet,
			fmt.Sprintf("%s, %s, %s %s, %s", s.street, s.city, s.province, s.postalCode, country),
		})
	}

	return append(steps, step{
		StrategyStreet,
		fmt.Sprintf("%s, %s, %s, %s", s.street, s.city, s.province, country),
	})
}

func (s sanitized) cityQuery() string {
	return fmt.Sprintf("%s, %s, %s", s.city, s.province, country)
}
