package glob

import "testing"

func TestMatchBasics(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"sd*", "sda", true},
		{"sd?", "sda", true},
		{"sd?", "sda1", false},
		{"sd[ab]", "sda", true},
		{"sd[ab]", "sdc", false},
		{"sd[!ab]", "sdc", true},
		{"sd[!ab]", "sda", false},
		{"sd[a-z]", "sdq", true},
		{"sd[a-z]", "sd5", false},
		{"usb*-*", "usb1-1", true},
		{"cam%e", "cam%e", true},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.s); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}

func TestMatchStarIsUniversal(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "a/b/c", "***"} {
		if !Match("*", s) {
			t.Errorf("Match(\"*\", %q) should always be true", s)
		}
	}
}

func TestMatchEmptyStringOnlyMatchesAllStar(t *testing.T) {
	cases := []struct {
		pattern string
		want    bool
	}{
		{"", true},
		{"*", true},
		{"**", true},
		{"***", true},
		{"a", false},
		{"?", false},
		{"[a]", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, ""); got != c.want {
			t.Errorf("Match(%q, \"\") = %v, want %v", c.pattern, got, c.want)
		}
	}
}

func TestMatchClassRange(t *testing.T) {
	if !Match("[0-9]", "5") {
		t.Error("expected digit range to match")
	}
	if Match("[0-9]", "x") {
		t.Error("expected digit range to reject letter")
	}
}
