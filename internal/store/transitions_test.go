package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from   string
		target string
		valid  bool
	}{
		{"pending", "calling", true},
		{"pending", "in_consultation", false},
		{"pending", "closed", false},
		{"pending", "absent", false},
		{"calling", "in_consultation", true},
		{"calling", "closed", true},
		{"calling", "absent", true},
		{"calling", "calling", false},
		{"in_consultation", "closed", true},
		{"in_consultation", "absent", false},
		{"in_consultation", "calling", false},
		{"closed", "calling", false},
		{"closed", "closed", false},
		{"absent", "calling", false},
		{"absent", "closed", false},
		{"", "calling", false},
		{"pending", "unknown", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.target); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.target, got, tt.valid)
		}
	}
}

func TestStampColumn(t *testing.T) {
	cases := []struct {
		target string
		column string
		ok     bool
	}{
		{"calling", "called_at", true},
		{"in_consultation", "attended_at", true},
		{"closed", "closed_at", true},
		{"absent", "", false},
		{"pending", "", false},
	}

	for _, tt := range cases {
		column, ok := StampColumn(tt.target)
		if column != tt.column || ok != tt.ok {
			t.Fatalf("StampColumn(%q)=(%q, %v), want (%q, %v)", tt.target, column, ok, tt.column, tt.ok)
		}
	}
}
