/*
Package extract pulls candidate email addresses out of free-form text and
reads that text from the input file or standard input.
*/
package extract

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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/x-stp/o365scan/internal/rtf"
)

// StdinPrompt is printed before reading addresses from standard input.
const StdinPrompt = "Paste emails, then press CTRL+D"

// emailPattern is deliberately loose. It accepts things RFC 5322 rejects and
// misses quoted local parts; callers treat every match as a candidate.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)

// Extract returns every address in text, deduplicated by exact spelling, in
// order of first appearance.
func Extract(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	emails := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		emails = append(emails, m)
	}
	return emails
}

// Domain returns the lower-cased part of email after the '@'.
func Domain(email string) string {
	_, domain, _ := strings.Cut(email, "@")
	return strings.ToLower(domain)
}

// ReadInput returns the plain text to scan.
//
// The file at path is read with invalid UTF-8 dropped and surrounding
// whitespace trimmed. If it is missing or empty, StdinPrompt is written to
// prompt and stdin is read to EOF instead. RTF documents from either source
// are converted to plain text.
func ReadInput(path string, stdin io.Reader, prompt io.Writer) (string, error) {
	text, err := readFile(path)
	if err != nil {
		return "", err
	}

	if text == "" {
		if prompt != nil {
			fmt.Fprintln(prompt, StdinPrompt)
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
	}

	if rtf.IsRTF(text) {
		return rtf.ToText(text)
	}
	return text, nil
}

func readFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read input %s: %w", path, err)
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "")), nil
}
