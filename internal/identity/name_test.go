package identity

import "testing"

func TestIsValidName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Alice", true},
		{"Bob Miller", true},
		{"José", true},
		{"  Carol  ", true},
		{"", false},
		{"   ", false},
		{"A", false},                        // too short
		{"user", false},                     // placeholder
		{"iPhone", false},                   // placeholder, case-insensitive
		{"WhatsApp", false},                 // placeholder
		{"😀😀😀", false},                      // emoji only
		{"!!!###", false},                   // symbol only
		{"4915112345678", false},            // digit heavy
		{"a1234567890", false},              // digit fraction > 0.7
		{"Jo!!!!!!!!", false},               // special fraction > 0.5
		{"Dr. Ann-Kathrin Weber", true},     // specials under threshold
		{string(make([]rune, 60)), false},   // too long
	}

	for _, tc := range cases {
		if got := IsValidName(tc.name); got != tc.want {
			t.Errorf("IsValidName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName("  Alice   B  "); got != "Alice B" {
		t.Fatalf("CleanName: got %q", got)
	}
}
