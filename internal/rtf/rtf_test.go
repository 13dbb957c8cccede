package rtf

import (
	"strings"
	"testing"
)

func TestToTextKeepsAddresses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    []string
		notWant []string
	}{
		{
			name: "paragraphs",
			in:   `{\rtf1\ansi\deff0 hello a@x.com \par b@y.com}`,
			want: []string{"hello", "a@x.com", "b@y.com"},
		},
		{
			name:    "control words dropped",
			in:      `{\rtf1\ansi\f0\fs24\pard one@x.com \par}`,
			want:    []string{"one@x.com"},
			notWant: []string{`\pard`, `\fs24`, "{", "}"},
		},
		{
			name: "hyperlink field",
			in:   `{\rtf1{\field{\*\fldinst HYPERLINK "mailto:q@x.com"}{\fldrslt q@x.com}} \par r_s@ex-a.co.uk}`,
			want: []string{"q@x.com", "r_s@ex-a.co.uk"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToText(tt.in)
			if err != nil {
				t.Fatalf("ToText: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("ToText() = %q, missing %q", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("ToText() = %q, unexpected %q", got, w)
				}
			}
		})
	}
}

func TestDecodeWindows1252(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii untouched", "a@x.com", "a@x.com"},
		{"utf-8 untouched", "café €", "café €"},
		{"raw byte", "caf\xe9", "café"},
		{"raw quotes", "\x93q\x94", "“q”"},
		{"c1 runes", "\u0093q\u0094 \u0080", "“q” €"},
		{"replacement char kept", "a�b", "a�b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := decodeWindows1252(tt.in); got != tt.want {
				t.Fatalf("decodeWindows1252(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsRTF(t *testing.T) {
	t.Parallel()
	if !IsRTF(`{\rtf1\ansi}`) {
		t.Error("expected RTF prefix to be detected")
	}
	if IsRTF(` {\rtf1}`) || IsRTF("a@x.com") {
		t.Error("false positive RTF detection")
	}
}
