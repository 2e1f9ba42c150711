package railtime

import "testing"

func TestParseCIFDate(t *testing.T) {
	d, err := ParseCIFDate("230603")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2023 || int(d.Month()) != 6 || d.Day() != 3 {
		t.Fatalf("got %v, want 2023-06-03", d)
	}
}

func TestIsNeverDeleted(t *testing.T) {
	if !IsNeverDeleted("999999") {
		t.Fatal("expected 999999 to be the never-deleted sentinel")
	}
	if IsNeverDeleted("230610") {
		t.Fatal("230610 is a real date, not the sentinel")
	}
}

func TestParseCIFTimeQuantisation(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"1000 ", 2400},
		{"1000H", 2402},
		{"1830 ", 4440},
		{"0000", 0},
		{"     ", -1},
		{"", -1},
	}
	for _, c := range cases {
		ct, err := ParseCIFTime(c.raw)
		if err != nil {
			t.Fatalf("ParseCIFTime(%q): %v", c.raw, err)
		}
		if got := ct.SortTime(); got != c.want {
			t.Errorf("ParseCIFTime(%q).SortTime() = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestParseCIFTimeRoundTrip(t *testing.T) {
	ct, err := ParseCIFTime("0915H")
	if err != nil {
		t.Fatal(err)
	}
	if ct.String() != "0915H" {
		t.Fatalf("round trip = %q, want 0915H", ct.String())
	}
}

func TestParseVSTPTimeHalfMinuteVariants(t *testing.T) {
	a, err := ParseVSTPTime("09153")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseVSTPTime("0915H")
	if err != nil {
		t.Fatal(err)
	}
	if a.SortTime() != b.SortTime() {
		t.Fatalf("VSTP '3' and 'H' half-minute suffixes must quantise identically: %d vs %d", a.SortTime(), b.SortTime())
	}
}
