package main

import "testing"

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestParseDevices(t *testing.T) {
	if got := parseDevices(""); len(got) != 1 || got[0] != 0 {
		t.Fatalf("empty -> %v, want [0]", got)
	}
	if got := parseDevices("1, 3"); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("1,3 -> %v", got)
	}
}
