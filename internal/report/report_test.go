package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWrite(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{
			name: "empty",
			want: "{\\rtf1\\ansi\\deff0\n}",
		},
		{
			name:  "order preserved",
			lines: []string{"a@x.com\tx.com\th.", "b@x.com\tx.com\th."},
			want:  "{\\rtf1\\ansi\\deff0\na@x.com\tx.com\th.\\line\nb@x.com\tx.com\th.\\line\n}",
		},
		{
			name:  "backslashes doubled",
			lines: []string{`we\ird@x.com` + "\tx.com\t" + `h\\.`},
			want:  "{\\rtf1\\ansi\\deff0\nwe\\\\ird@x.com\tx.com\th\\\\\\\\.\\line\n}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := Write(&buf, tt.lines); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if buf.String() != tt.want {
				t.Fatalf("Write() =\n%q\nwant\n%q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "output_o365.rtf")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := WriteFile(path, []string{"a@x.com\tx.com\th."}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\\rtf1\\ansi\\deff0\na@x.com\tx.com\th.\\line\n}"
	if string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestWriteFileMissingDirFails(t *testing.T) {
	t.Parallel()
	if err := WriteFile(filepath.Join(t.TempDir(), "no", "out.rtf"), nil); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
