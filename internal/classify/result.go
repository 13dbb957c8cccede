/*
Package classify decides whether a mail domain is hosted on Microsoft 365 by
inspecting its MX records, and memoizes the decision per domain.
*/
package classify

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/json"
	"fmt"
)

// Kind is the outcome of classifying a domain.
type Kind uint8

const (
	// NoMX covers every lookup failure: timeouts, NXDOMAIN, empty answers.
	NoMX Kind = iota
	// Other means the domain has MX records, none of them Microsoft hosted.
	Other
	// O365 means at least one MX host points at Exchange Online.
	O365
)

// Labels used on the wire and on the console.
const (
	labelO365  = "O365"
	labelOther = "Other"
	labelNoMX  = "No MX"
)

// String returns the console label of k.
func (k Kind) String() string {
	switch k {
	case O365:
		return labelO365
	case Other:
		return labelOther
	default:
		return labelNoMX
	}
}

// Result is an immutable classification. Exchange is only set for O365.
type Result struct {
	Kind     Kind
	Exchange string
}

// O365Result returns the O365 classification for the given exchange host.
func O365Result(exchange string) Result { return Result{Kind: O365, Exchange: exchange} }

// OtherResult returns the Other classification.
func OtherResult() Result { return Result{Kind: Other} }

// NoMXResult returns the No MX classification.
func NoMXResult() Result { return Result{Kind: NoMX} }

// IsO365 reports whether r is an O365 classification.
func (r Result) IsO365() bool { return r.Kind == O365 }

// MarshalJSON encodes r as the two-element array used by the checkpoint file:
// [true, host] for O365, [false, "Other"] and [false, "No MX"] otherwise.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case O365:
		return json.Marshal([2]any{true, r.Exchange})
	case Other:
		return json.Marshal([2]any{false, labelOther})
	default:
		return json.Marshal([2]any{false, labelNoMX})
	}
}

// UnmarshalJSON decodes the two-element array form. A false flag with any
// label other than "Other" is read back as No MX.
func (r *Result) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("classification: want 2 elements, got %d", len(pair))
	}

	var matched bool
	if err := json.Unmarshal(pair[0], &matched); err != nil {
		return fmt.Errorf("classification flag: %w", err)
	}
	var label string
	if err := json.Unmarshal(pair[1], &label); err != nil {
		return fmt.Errorf("classification label: %w", err)
	}

	switch {
	case matched:
		*r = O365Result(label)
	case label == labelOther:
		*r = OtherResult()
	default:
		*r = NoMXResult()
	}
	return nil
}
