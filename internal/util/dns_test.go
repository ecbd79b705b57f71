package util

import "testing"

func TestIsDNSLabelSafe(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"myapp", true},
		{"my-app-123", true},
		{"a", true},
		{"", false},
		{"-leading", false},
		{"trailing-", false},
		{"My-App", false},
		{"has_underscore", false},
		{"has.dot", false},
		{"has space", false},
		{string(make([]byte, 64)), false},
	}

	for _, c := range cases {
		if got := IsDNSLabelSafe(c.name); got != c.ok {
			t.Errorf("IsDNSLabelSafe(%q) = %v, want %v", c.name, got, c.ok)
		}
	}
}

func TestIsDNSLabelSafeMaxLength(t *testing.T) {
	label := ""
	for i := 0; i < 63; i++ {
		label += "a"
	}
	if !IsDNSLabelSafe(label) {
		t.Fatalf("expected a 63-char label to be valid")
	}
	if IsDNSLabelSafe(label + "a") {
		t.Fatalf("expected a 64-char label to be invalid")
	}
}
