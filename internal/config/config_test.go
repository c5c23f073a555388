package config

import (
	"reflect"
	"testing"
)

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":                nil,
		"a":               {"a"},
		"a,b,c":           {"a", "b", "c"},
		" a , b ,c ":      {"a", "b", "c"},
		"a,,b":            {"a", "b"},
	}
	for in, want := range cases {
		got := splitCSV(in)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("splitCSV(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitCSVInts(t *testing.T) {
	got := splitCSVInts("60,180,900,1800")
	want := []int{60, 180, 900, 1800}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSVInts = %v, want %v", got, want)
	}
}

func TestSplitCSVInts_IgnoresNonIntegers(t *testing.T) {
	got := splitCSVInts("60,oops,180")
	want := []int{60, 180}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSVInts should skip non-integer entries, got %v want %v", got, want)
	}
}
