package patch

import (
	"fmt"

	"github.com/opsledger/deltakernel/internal/doc"
)

// Encode serializes the patch to RFC 8785 canonical JSON for storage.
// Deltas are immutable once committed, so the stored bytes double as the
// input to the patch audit digest.
func (p Patch) Encode() ([]byte, error) {
	arr := make(doc.Array, len(p))
	for i, op := range p {
		obj := doc.Object{
			"op":   doc.String(op.Kind),
			"path": doc.String(op.Path),
		}
		if op.Value != nil {
			obj["value"] = op.Value
		}
		arr[i] = obj
	}
	data, err := doc.MarshalCanonical(arr)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	return data, nil
}

// Decode parses a stored patch back into operations.
func Decode(data []byte) (Patch, error) {
	v, err := doc.ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	arr, ok := v.(doc.Array)
	if !ok {
		return nil, fmt.Errorf("decode patch: expected array, got %T", v)
	}

	out := make(Patch, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(doc.Object)
		if !ok {
			return nil, fmt.Errorf("decode patch: op %d is not an object", i)
		}
		kind, ok := obj["op"].(doc.String)
		if !ok {
			return nil, fmt.Errorf("decode patch: op %d missing op kind", i)
		}
		path, ok := obj["path"].(doc.String)
		if !ok {
			return nil, fmt.Errorf("decode patch: op %d missing path", i)
		}
		op := Op{Kind: OpKind(kind), Path: string(path)}
		if v, present := obj["value"]; present {
			op.Value = v
		}
		out = append(out, op)
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return out, nil
}
