package values

import (
	"testing"
	"time"

	"github.com/coralrepo/coral/internal/ids"
)

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"STRING":    String,
		"long":      Long,
		"Boolean":   Boolean,
		"REFERENCE": Reference,
		"":          Undefined,
	}
	for in, want := range cases {
		got, err := ParseType(in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTypeUnknown(t *testing.T) {
	if _, err := ParseType("NOT_A_TYPE"); err == nil {
		t.Fatal("expected an error for an unknown type name")
	}
}

func TestConvertToIdentity(t *testing.T) {
	v := NewString("hi")
	got, err := ConvertTo(v, String)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	if !Equal(got, v) {
		t.Errorf("expected identity conversion to return the same value")
	}
}

func TestConvertStringToLong(t *testing.T) {
	got, err := ConvertTo(NewString("42"), Long)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	if got.Long() != 42 {
		t.Errorf("got %d, want 42", got.Long())
	}
}

func TestConvertStringToLongBadFormat(t *testing.T) {
	if _, err := ConvertTo(NewString("not a number"), Long); err == nil {
		t.Fatal("expected a ValueFormat error")
	}
}

func TestConvertBooleanToLong(t *testing.T) {
	got, err := ConvertTo(NewBoolean(true), Long)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	if got.Long() != 1 {
		t.Errorf("got %d, want 1", got.Long())
	}
}

func TestConvertLongToDouble(t *testing.T) {
	got, err := ConvertTo(NewLong(3), Double)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	if got.Double() != 3.0 {
		t.Errorf("got %v, want 3.0", got.Double())
	}
}

func TestConvertStringToDate(t *testing.T) {
	got, err := ConvertTo(NewString("2024-01-02T15:04:05Z"), Date)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	want := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	if !got.Date().Equal(want) {
		t.Errorf("got %v, want %v", got.Date(), want)
	}
}

func TestConvertStringToDateNaturalLanguage(t *testing.T) {
	// Grounded on the teacher's olebedev/when usage: a non-RFC3339 string
	// should still resolve via the natural-language fallback rather than
	// failing outright.
	if _, err := ConvertTo(NewString("today"), Date); err != nil {
		t.Fatalf("ConvertTo natural-language date: %v", err)
	}
}

func TestConvertStringToDateUnparseable(t *testing.T) {
	if _, err := ConvertTo(NewString("not a date at all, nonsense"), Date); err == nil {
		t.Fatal("expected a ValueFormat error")
	}
}

func TestConvertReferenceUnsupported(t *testing.T) {
	if _, err := ConvertTo(NewString(ids.NewNodeId().String()), Reference); err == nil {
		t.Fatal("expected STRING->REFERENCE conversion to be rejected")
	}
}

func TestEqual(t *testing.T) {
	ref := ids.NewNodeId()
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same string", NewString("x"), NewString("x"), true},
		{"different string", NewString("x"), NewString("y"), false},
		{"different type", NewString("1"), NewLong(1), false},
		{"same long", NewLong(5), NewLong(5), true},
		{"same reference", NewReference(ref), NewReference(ref), true},
		{"different reference", NewReference(ref), NewReference(ids.NewNodeId()), false},
	}
	for _, c := range cases {
		if got := Equal(c.a, c.b); got != c.want {
			t.Errorf("%s: Equal = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestTypeStringRoundTrip(t *testing.T) {
	for _, typ := range []Type{String, Binary, Long, Double, Boolean, Date, Name, Path, Reference} {
		parsed, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ.String(), err)
		}
		if parsed != typ {
			t.Errorf("round-trip %v -> %q -> %v", typ, typ.String(), parsed)
		}
	}
}
