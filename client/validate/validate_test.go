package validate

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5550100", "5550100", true},
		{"555-0100", "5550100", true},
		{"+1 (555) 010-0200", "15550100200", true},
		{"555.0100", "5550100", true},
		{"", "", false},
		{"---", "", false},
		{"555O100", "", false},
		{"555+0100", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.ok && err != nil {
			t.Errorf("NormalizePhone(%q) failed: %v", tc.in, err)
			continue
		}
		if !tc.ok && err == nil {
			t.Errorf("NormalizePhone(%q) = %q, want error", tc.in, got)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPhonePassthrough(t *testing.T) {
	// Numbers which don't parse come back unchanged.
	if got := FormatPhone("12", "US"); got != "12" {
		t.Errorf("FormatPhone(12) = %q, want unchanged", got)
	}
}

func TestFormatPhoneInternational(t *testing.T) {
	got := FormatPhone("2024561111", "US")
	if got == "2024561111" {
		t.Errorf("FormatPhone did not format a valid number: %q", got)
	}
}
