package utils

import (
	"regexp"
	"testing"
)

func TestGenerateReferenceFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^TXN-\d{8}-\d{6}$`)
	for i := 0; i < 20; i++ {
		ref := GenerateReference("TXN")
		if !pattern.MatchString(ref) {
			t.Fatalf("reference %q does not match TXN-yyyymmdd-nnnnnn", ref)
		}
	}
}

func TestGenerateShortCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateShortCode(6)
		if len(code) != 6 {
			t.Fatalf("code %q has length %d, want 6", code, len(code))
		}
		if code[0] == '0' {
			t.Fatalf("code %q starts with a zero", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("0551112233", "SA")
	if err != nil {
		t.Fatalf("NormalizePhoneNumber: %v", err)
	}
	if got != "+966551112233" {
		t.Fatalf("normalized = %q, want +966551112233", got)
	}

	// Already international stays as-is.
	got, err = NormalizePhoneNumber("+966551112233", "")
	if err != nil {
		t.Fatalf("NormalizePhoneNumber international: %v", err)
	}
	if got != "+966551112233" {
		t.Fatalf("normalized = %q, want +966551112233", got)
	}

	if _, err := NormalizePhoneNumber("", "SA"); err == nil {
		t.Fatal("empty phone accepted")
	}
	if _, err := NormalizePhoneNumber("12", "SA"); err == nil {
		t.Fatal("too-short phone accepted")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("UniqueSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UniqueSlice = %v, want %v (order preserved)", got, want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal(" 12.50 ")
	if err != nil {
		t.Fatalf("ParseDecimal: %v", err)
	}
	if d.String() != "12.5" {
		t.Fatalf("ParseDecimal = %s, want 12.5", d)
	}
	if _, err := ParseDecimal(""); err == nil {
		t.Fatal("empty string accepted")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatal("non-numeric string accepted")
	}
}
