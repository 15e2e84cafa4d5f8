package authkit

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare domestic number", input: "9876543210", want: "+919876543210"},
		{name: "domestic number with spaces", input: "98765 43210", want: "+919876543210"},
		{name: "domestic number with dashes", input: "98765-43210", want: "+919876543210"},
		{name: "already prefixed", input: "+919876543210", want: "+919876543210"},
		{name: "foreign number unchanged", input: "+14155552671", want: "+14155552671"},
		{name: "foreign number with punctuation", input: "+1 (415) 555-2671", want: "+14155552671"},
		{name: "domestic number outside mobile ranges", input: "0123456789", want: "+910123456789"},
		{name: "unassigned prefixed number", input: "+999123456789", want: "+999123456789"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := NormalizePhone(testCase.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestNormalizePhoneRejectsMalformedNumbers(t *testing.T) {
	for _, input := range []string{"", "   ", "12345", "98765432101", "abcdefghij", "+0123456789", "+12", "+91987654321a", "+1234567890123456"} {
		t.Run(input, func(t *testing.T) {
			if _, err := NormalizePhone(input); !errors.Is(err, ErrInvalidPhoneFormat) {
				t.Fatalf("expected ErrInvalidPhoneFormat for %q, got %v", input, err)
			}
		})
	}
}
