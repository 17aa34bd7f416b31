package patch

import (
	"testing"

	"github.com/opsledger/deltakernel/internal/doc"
)

func TestEncodeDeterministic(t *testing.T) {
	p := Patch{
		Replace("/metrics/closures_today", doc.Int(3)),
		Add("/enforcement/closure_log/-", doc.Object{
			"loop_id": doc.String("inbox-zero"),
			"outcome": doc.String("closed"),
		}),
	}

	first, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := p.Encode()
		if err != nil {
			t.Fatalf("Encode() iteration %d failed: %v", i, err)
		}
		if string(next) != string(first) {
			t.Fatalf("encoding changed between calls: %s vs %s", next, first)
		}
	}
}

func TestDecodeAppliesSameAsOriginal(t *testing.T) {
	state := doc.Object{"count": doc.Int(0), "log": doc.Array{}}
	p := Patch{
		Replace("/count", doc.Int(5)),
		Add("/log/-", doc.String("entry")),
	}

	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	fromOriginal, _, err := p.Apply(state)
	if err != nil {
		t.Fatalf("Apply(original) failed: %v", err)
	}
	fromDecoded, _, err := decoded.Apply(state)
	if err != nil {
		t.Fatalf("Apply(decoded) failed: %v", err)
	}

	if doc.MustStateDigest(fromOriginal) != doc.MustStateDigest(fromDecoded) {
		t.Error("decoded patch produced a different state")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	inputs := []string{
		`{"op":"add"}`,
		`[{"path":"/a","value":1}]`,
		`[{"op":"add","value":1}]`,
		`[{"op":"merge","path":"/a","value":1}]`,
		`[{"op":"add","path":"/a","value":1.5}]`,
		`[]`,
	}

	for _, in := range inputs {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%s) succeeded", in)
		}
	}
}
