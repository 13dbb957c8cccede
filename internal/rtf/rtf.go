/*
Package rtf turns RTF documents into plain text for address extraction.

Conversion is done by github.com/lu4p/cat/rtftxt. Hex escapes that come out
of it as single bytes or C1 control runes are repaired as Windows-1252, the
code page mail clients use for \'hh escapes in practice.
*/
package rtf

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
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lu4p/cat/rtftxt"
	"golang.org/x/text/encoding/charmap"
)

// Prefix marks an RTF document.
const Prefix = `{\rtf`

// IsRTF reports whether text looks like an RTF document.
func IsRTF(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

// ToText converts an RTF document to plain text.
//
// Parameters:
//
//	src: the complete RTF document, starting with Prefix.
//
// Returns:
//
//	The visible text with code-page bytes decoded, or an error if the
//	document could not be read.
func ToText(src string) (string, error) {
	buf, err := rtftxt.Text(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("convert rtf: %w", err)
	}
	return decodeWindows1252(buf.String()), nil
}

// decodeWindows1252 rewrites stray bytes and C1 control runes (U+0080 to
// U+009F) as the Windows-1252 characters they stand for. Valid UTF-8 outside
// that range is kept as is.
func decodeWindows1252(s string) string {
	if !needsDecoding(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteRune(charmap.Windows1252.DecodeByte(s[i]))
		case r >= 0x80 && r <= 0x9f:
			b.WriteRune(charmap.Windows1252.DecodeByte(byte(r)))
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

func needsDecoding(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || (r >= 0x80 && r <= 0x9f) {
			return true
		}
		i += size
	}
	return false
}
