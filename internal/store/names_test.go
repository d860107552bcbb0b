package store

import "testing"

func TestSuggestUsername(t *testing.T) {
	tests := []struct {
		seed string
		want string
	}{
		{"jane.doe@example.com", "jane.doe"},
		{"Zoë Ångström", "zoe_angstrom"},
		{"  ", "user"},
		{"@@@", "user"},
		{"al", "al1"},
		{"a very long display name indeed", "a_very_long_display"},
		{"x--y__z", "x_y_z"},
	}
	for _, tt := range tests {
		if got := SuggestUsername(tt.seed); got != tt.want {
			t.Errorf("SuggestUsername(%q) = %q, want %q", tt.seed, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"General Discussion", "general-discussion"},
		{"Café & Lounge!", "cafe-lounge"},
		{"***", "category"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.name); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestWithSuffix(t *testing.T) {
	if got := withSuffix("abc", 2, 20); got != "abc2" {
		t.Errorf("withSuffix = %q", got)
	}
	if got := withSuffix("abcdefghijklmnopqrst", 12, 20); got != "abcdefghijklmnopqr12" {
		t.Errorf("withSuffix truncation = %q", got)
	}
}
