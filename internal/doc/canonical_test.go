package doc

import (
	"strings"
	"testing"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"string", String("hello"), `"hello"`},
		{"int", Int(42), "42"},
		{"negative int", Int(-7), "-7"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"mixed array", Array{Int(1), String("a"), Bool(true)}, `[1,"a",true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			if err != nil {
				t.Fatalf("MarshalCanonical() failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"mango": Int(3),
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `{"alpha":2,"mango":3,"zebra":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"outer": Object{
			"z": Int(1),
			"a": Int(2),
		},
		"another": Int(3),
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `{"another":3,"outer":{"a":2,"z":1}}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	obj := Object{"html": String("<b>&amp;</b>")}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	if strings.Contains(string(got), `\u003c`) || strings.Contains(string(got), `\u0026`) {
		t.Errorf("HTML characters were escaped: %s", got)
	}
	want := `{"html":"<b>&amp;</b>"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonicalRejectsUntypedNil(t *testing.T) {
	if _, err := MarshalCanonical(nil); err == nil {
		t.Error("expected error for untyped nil")
	}
}

func TestMarshalCanonicalNullValue(t *testing.T) {
	obj := Object{"loop_id": Null{}}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := `{"loop_id":null}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "é" as combining sequence (e + U+0301) must normalize to the
	// precomposed form U+00E9.
	decomposed := String("café")
	precomposed := String("café")

	got1, err := MarshalCanonical(decomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical(decomposed) failed: %v", err)
	}
	got2, err := MarshalCanonical(precomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical(precomposed) failed: %v", err)
	}

	if string(got1) != string(got2) {
		t.Errorf("NFC normalization failed: %s != %s", got1, got2)
	}
}

func TestMarshalCanonicalU2028U2029NotEscaped(t *testing.T) {
	s := String("line para end")

	got, err := MarshalCanonical(s)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	if strings.Contains(string(got), `\u2028`) || strings.Contains(string(got), `\u2029`) {
		t.Errorf("U+2028/U+2029 were escaped: %q", got)
	}
	if !strings.Contains(string(got), " ") || !strings.Contains(string(got), " ") {
		t.Errorf("literal separators missing: %q", got)
	}
}

func TestMarshalCanonicalLiteralBackslashU2028(t *testing.T) {
	// A literal backslash followed by the text "u2028" is not an escape
	// sequence and must survive as-is.
	s := String(`\u2028`)

	got, err := MarshalCanonical(s)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `"\\u2028"`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonicalIdempotency(t *testing.T) {
	obj := Object{
		"signals": Object{
			"sleep_minutes": Int(420),
			"open_loops":    Int(3),
		},
		"mode": String("BUILD"),
	}

	first, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("first MarshalCanonical() failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		next, err := MarshalCanonical(obj)
		if err != nil {
			t.Fatalf("MarshalCanonical() iteration %d failed: %v", i, err)
		}
		if string(next) != string(first) {
			t.Fatalf("iteration %d differs: %s vs %s", i, next, first)
		}
	}
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+1D306 encodes as a surrogate pair whose first unit is 0xD834, which
	// sorts before U+FB33 in UTF-16 code units even though its UTF-8 bytes
	// sort after.
	obj := Object{
		"\U0001D306": Int(1),
		"דּ":          Int(2),
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	fb33 := strings.Index(string(got), "דּ")
	surrogate := strings.Index(string(got), "\U0001D306")
	if fb33 == -1 || surrogate == -1 {
		t.Fatalf("keys missing from output: %q", got)
	}
	if surrogate > fb33 {
		t.Errorf("UTF-16 ordering violated: %q", got)
	}
}
