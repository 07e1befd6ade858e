package validation

import "testing"

func TestIsValidPhoneNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		prefix string
		valid  bool
	}{
		{
			name:   "valid kenyan number",
			number: "254712345678",
			prefix: "254",
			valid:  true,
		},
		{
			name:   "wrong prefix",
			number: "255712345678",
			prefix: "254",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "25471234567a",
			prefix: "254",
			valid:  false,
		},
		{
			name:   "too short",
			number: "2547123",
			prefix: "254",
			valid:  false,
		},
		{
			name:   "too long",
			number: "25471234567890",
			prefix: "254",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			prefix: "254",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPhoneNumber(tt.number, tt.prefix)
			if got != tt.valid {
				t.Fatalf("IsValidPhoneNumber(%q, %q) = %v, want %v", tt.number, tt.prefix, got, tt.valid)
			}
		})
	}
}
