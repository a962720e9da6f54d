package phone

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"+62 812-3456-7890", "6281234567890", true},
		{"081234567890", "6281234567890", true},
		{"81234567890", "6281234567890", true},
		{"14155552671", "14155552671", true},
		{"12345", "12345", false},
		{"1234567890123456", "1234567890123456", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in, "")
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()

	in := "6281234567890, 6281234567891;\n+62 812\t6281234567890\nabc 1234567"
	got := ParseList(in)
	want := []string{"6281234567890", "6281234567891", "1234567"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseList = %v, want %v", got, want)
	}
	if got := ParseList("   "); len(got) != 0 {
		t.Fatalf("ParseList(blank) = %v, want empty", got)
	}
}
