package directory

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"9375551234", "+19375551234"},
		{"19375551234", "+19375551234"},
		{"+19375551234", "+19375551234"},
		{"(937) 555-1234", "+19375551234"},
		{"1 (937) 555-1234", "+19375551234"},
		{"+442071838750", "+442071838750"},
		{"  ", ""},
		{"", ""},
		{"ext", ""},
	}
	for _, tc := range cases {
		if got := NormalizeE164(tc.in); got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizePhone(t *testing.T) {
	if got := SanitizePhone("+1 (937) 555-1234"); got != "19375551234" {
		t.Errorf("expected digits only, got %q", got)
	}
	if got := SanitizePhone(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
