package language

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"auto", Auto},
		{" AUTO ", Auto},
		{"en", "en"},
		{"eng", "en"},
		{"English", "en"},
		{"fre", "fr"},
		{"fra", "fr"},
		{"chi", "zh"},
		{"german", "de"},
		{"cy", "cy"},
		{"wel", "cy"},
		{"haw", "haw"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeRejectsUnknown(t *testing.T) {
	for _, in := range []string{"klingon", "e1", "12"} {
		if _, err := Normalize(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"":     "",
		"auto": "Auto-detect",
		"ja":   "Japanese",
		"cy":   "Welsh",
		"e1":   "E1",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}
