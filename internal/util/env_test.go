package util

import "testing"

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK  bool
	}{
		{"true", true, true},
		{"YES", true, true},
		{" on ", true, true},
		{"1", true, true},
		{"false", false, true},
		{"No", false, true},
		{"off", false, true},
		{"0", false, true},
		{"sometimes", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		got, ok := ParseBool(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
