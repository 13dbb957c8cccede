// Package report writes matched results as a minimal RTF document.
package report

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
	"io"
	"strings"

	"github.com/x-stp/o365scan/internal/util"
)

const (
	header    = `{\rtf1\ansi\deff0` + "\n"
	lineBreak = `\line` + "\n"
	footer    = "}"
)

var escaper = strings.NewReplacer(`\`, `\\`)

// Write emits lines as an RTF document, one \line-terminated row per entry.
// Backslashes are doubled; braces and non-ASCII text are written as is.
func Write(w io.Writer, lines []string) error {
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := escaper.WriteString(w, line); err != nil {
			return err
		}
		if _, err := io.WriteString(w, lineBreak); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, footer)
	return err
}

// WriteFile atomically replaces path with the RTF report for lines.
func WriteFile(path string, lines []string) error {
	if err := util.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return Write(w, lines)
	}); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
