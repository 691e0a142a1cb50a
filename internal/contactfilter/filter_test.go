package contactfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanRedactsPhoneNumber(t *testing.T) {
	out, redacted := Scan("call me 555-123-4567")

	assert.True(t, redacted)
	assert.Equal(t, "call me [CONTACT INFO BLOCKED]", out)
}

func TestScan(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		redacted bool
	}{
		{"plain text", "Is the bike still available?", "Is the bike still available?", false},
		{"short number kept", "I can pay 450 for it, pick up at 6", "I can pay 450 for it, pick up at 6", false},
		{"year kept", "bought it in 2019", "bought it in 2019", false},
		{"dotted phone", "ring 555.123.4567 tonight", "ring [CONTACT INFO BLOCKED] tonight", true},
		{"parenthesised area code", "(555) 123 4567 after 5", "[CONTACT INFO BLOCKED] after 5", true},
		{"international", "my number +48 601 234 567 ok", "my number [CONTACT INFO BLOCKED] ok", true},
		{"spaced digits", "1 2 3 4 5 6 7", "[CONTACT INFO BLOCKED]", true},
		{"email", "write to jane.doe+ads@example.co.uk please", "write to [CONTACT INFO BLOCKED] please", true},
		{"obfuscated email", "jane at example dot com", "[CONTACT INFO BLOCKED]", true},
		{"spelled digits", "five five five one two three four", "[CONTACT INFO BLOCKED]", true},
		{"telegram handle", "my telegram is @bike_seller", "my telegram is [CONTACT INFO BLOCKED]", true},
		{"text me handle", "text me at @jane.d", "text me at [CONTACT INFO BLOCKED]", true},
		{"fullwidth digits", "call ５５５１２３４５６７", "call [CONTACT INFO BLOCKED]", true},
		{"iso date kept", "meet on 2024-05-12", "meet on 2024-05-12", false},
		{"day first date kept", "free from 12.05.2024 onwards", "free from 12.05.2024 onwards", false},
		{"impossible date redacted", "ring 2024-13-45", "ring [CONTACT INFO BLOCKED]", true},
		{"mixed separators redacted", "2024-05.12", "[CONTACT INFO BLOCKED]", true},
		{"number list redacted", "sizes 38 39 40 41", "sizes [CONTACT INFO BLOCKED]", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, redacted := Scan(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.redacted, redacted)
		})
	}
}

func TestScanPreservesSurroundingUnicode(t *testing.T) {
	out, redacted := Scan("Привет 👋 звони 8-800-555-35-35 😀 спасибо")

	assert.True(t, redacted)
	assert.Equal(t, "Привет 👋 звони [CONTACT INFO BLOCKED] 😀 спасибо", out)
}

func TestScanNeverLeaksOriginalDigits(t *testing.T) {
	inputs := []string{
		"555-123-4567",
		"x5551234567y",
		"call 555 123 4567 or 555.765.4321",
		"numbers: (555)1234567!",
	}
	for _, in := range inputs {
		out, redacted := Scan(in)
		assert.True(t, redacted, in)
		assert.NotContains(t, out, "1234567", in)
		assert.NotContains(t, out, "4567", in)
	}
}

func TestScanInvalidUTF8(t *testing.T) {
	out, redacted := Scan("hi \xff 5551234567")

	assert.True(t, redacted)
	assert.Equal(t, "hi � [CONTACT INFO BLOCKED]", out)
}

func TestScanIsDeterministic(t *testing.T) {
	in := "mail me: a@b.io or 555-123-4567"
	first, _ := Scan(in)
	second, _ := Scan(in)
	assert.Equal(t, first, second)

	again, redacted := Scan(first)
	assert.False(t, redacted, "redacted output must be stable")
	assert.Equal(t, first, again)
}

func TestCustomPlaceholderAndRule(t *testing.T) {
	f := New(
		WithPlaceholder("***"),
		WithRule(func(text string) [][2]int {
			if i := len("visit "); len(text) > i && text[:i] == "visit " {
				return [][2]int{{i, len(text)}}
			}
			return nil
		}),
	)

	out, redacted := f.Scan("visit example.org")
	assert.True(t, redacted)
	assert.Equal(t, "visit ***", out)
}
