package checksum

import (
	"io"
	"strings"
	"testing"
)

const (
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func TestCalculateSHA256(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"hello", "hello", helloSHA256},
		{"empty", "", emptySHA256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSHA256(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("CalculateSHA256() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CalculateSHA256(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("read error is propagated", func(t *testing.T) {
		if _, err := CalculateSHA256(errReader{}); err == nil {
			t.Error("CalculateSHA256() expected error from failing reader, got nil")
		}
	})
}

func TestSum_MatchesStreaming(t *testing.T) {
	if got := Sum([]byte("hello")); got != helloSHA256 {
		t.Errorf("Sum(hello) = %q, want %q", got, helloSHA256)
	}
	streamed, _ := CalculateSHA256(strings.NewReader("%PDF-1.7 binary\x00\xff"))
	if got := Sum([]byte("%PDF-1.7 binary\x00\xff")); got != streamed {
		t.Errorf("Sum = %q, streamed = %q", got, streamed)
	}
}

type errReader struct{}

func (errReader) Read(_ []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
