package passport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/pkg/canonicaljson"
)

// Document is an assembled detail document: mask field name to the canonical
// JSON of that field's sub-structure. Values are always arrays or objects.
type Document map[string]json.RawMessage

// Set canonically encodes v under field. Scalars are rejected.
func (d Document) Set(field string, v any) error {
	raw, err := canonicaljson.Marshal(v)
	if err != nil {
		return &apperr.SerializationError{Op: "encode " + field, Err: err}
	}
	if len(raw) == 0 || (raw[0] != '[' && raw[0] != '{') {
		return &apperr.SerializationError{Op: "encode " + field, Err: fmt.Errorf("value is not an array or object: %s", raw)}
	}
	d[field] = raw
	return nil
}

// Keys returns the top-level keys sorted.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Field decodes one field into dst.
func (d Document) Field(field string, dst any) error {
	raw, ok := d[field]
	if !ok {
		return apperr.NotFound("document field", field)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &apperr.SerializationError{Op: "decode " + field, Err: err}
	}
	return nil
}

// Codec converts documents to and from their persisted form.
type Codec interface {
	Encode(doc Document) ([]byte, error)
	Decode(data []byte) (Document, error)
}

// CanonicalCodec stores documents as canonical JSON so identical documents
// always encode to identical bytes.
type CanonicalCodec struct{}

// Encode writes doc as one canonical JSON object. A nil document encodes as {}.
func (CanonicalCodec) Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	out, err := canonicaljson.Marshal(map[string]json.RawMessage(doc))
	if err != nil {
		return nil, &apperr.SerializationError{Op: "encode document", Err: err}
	}
	return out, nil
}

// Decode parses a stored document. Empty input and JSON null decode to an
// empty document.
func (CanonicalCodec) Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, &apperr.SerializationError{Op: "decode document", Err: err}
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
