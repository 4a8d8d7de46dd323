// Package fingerprint derives deterministic cache keys from request payloads.
//
// A fingerprint is the hex SHA-256 of the payload's canonical JSON encoding:
// object keys sorted, no insignificant whitespace, numbers kept as written.
// Payloads that differ only in key order or formatting share a fingerprint.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidJSON is returned when raw input is not a single JSON value.
var ErrInvalidJSON = errors.New("fingerprint: invalid JSON")

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Of returns the fingerprint of any JSON-serializable value.
func Of(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// FromJSON returns the fingerprint of a raw JSON document.
func FromJSON(raw []byte) (string, error) {
	v, err := decode(raw)
	if err != nil {
		return "", err
	}
	return Of(v)
}

// CanonicalJSON re-encodes a raw JSON document in canonical form.
func CanonicalJSON(raw []byte) ([]byte, error) {
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return Canonical(v)
}

// Canonical returns the canonical JSON encoding of v.
// encoding/json emits map keys in sorted order, so decoding into
// map[string]any and re-encoding is enough to normalize key order.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("fingerprint: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidJSON)
	}
	return v, nil
}
