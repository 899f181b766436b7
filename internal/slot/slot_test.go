package slot

import (
	"errors"
	"testing"
	"time"

	"github.com/example/allybot/internal/internaltypes"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"research", Research, false},
		{" Training ", Training, false},
		{"BUILDING", Building, false},
		{"healing", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.wantErr {
			if !errors.Is(err, internaltypes.ErrInvalidInput) {
				t.Errorf("ParseCategory(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCategory(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	a := NewKey(Research, time.Date(2025, 6, 18, 16, 0, 0, 0, loc))
	b := NewKey(Research, time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC))
	if a != b {
		t.Errorf("expected equal keys for the same instant, got %v and %v", a, b)
	}
	if a.String() != "research@2025-06-18T14:00:00Z" {
		t.Errorf("unexpected key string %q", a.String())
	}
}

func TestValidate(t *testing.T) {
	at := time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC)
	ok := Slot{Category: Research, At: at, BookedBy: "u1"}
	if err := ok.Validate(time.UTC); err != nil {
		t.Fatalf("valid slot rejected: %v", err)
	}

	cases := map[string]Slot{
		"category": {Category: "x", At: at, BookedBy: "u1"},
		"zero":     {Category: Research, BookedBy: "u1"},
		"minute":   {Category: Research, At: at.Add(30 * time.Minute), BookedBy: "u1"},
		"second":   {Category: Research, At: at.Add(time.Second), BookedBy: "u1"},
		"booker":   {Category: Research, At: at},
	}
	for name, s := range cases {
		if err := s.Validate(time.UTC); !errors.Is(err, internaltypes.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestOnHour_RespectsZone(t *testing.T) {
	// 14:00 UTC is 19:30 in a +05:30 zone
	ist := time.FixedZone("IST", 5*60*60+30*60)
	at := time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC)
	if !OnHour(at, time.UTC) {
		t.Error("expected on hour in UTC")
	}
	if OnHour(at, ist) {
		t.Error("expected off hour in +05:30")
	}
}

func TestCategoryTitle(t *testing.T) {
	if got := Training.Title(); got != "Training" {
		t.Errorf("Title() = %q", got)
	}
}
