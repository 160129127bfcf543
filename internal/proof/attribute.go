package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

const saltLen = 32

// opening reveals one committed field: its name, canonical JSON value and salt.
type opening struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Salt  []byte          `json:"salt"`
}

// fieldSalt derives a per-credential, per-field salt so repeated proofs over
// the same credential commit identically without storing salts.
func fieldSalt(secret, dataHash []byte, name string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, dataHash, []byte("credanchor/attribute/"+name))
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func fieldCommitment(salt []byte, name string, value []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(value)
	return h.Sum(nil)
}

// commitFields commits to every field in sorted name order and returns the
// commitments with an opening per field.
func commitFields(secret, dataHash []byte, fields map[string]any) ([][]byte, map[string]opening, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	commitments := make([][]byte, 0, len(names))
	openings := make(map[string]opening, len(names))
	for _, name := range names {
		value, err := canonicalValue(fields[name])
		if err != nil {
			return nil, nil, err
		}
		salt, err := fieldSalt(secret, dataHash, name)
		if err != nil {
			return nil, nil, err
		}
		commitments = append(commitments, fieldCommitment(salt, name, value))
		openings[name] = opening{Name: name, Value: value, Salt: salt}
	}
	return commitments, openings, nil
}

// verifyOpening recomputes the commitment of o and reports whether it is one
// of commitments.
func verifyOpening(o opening, commitments [][]byte) ([]byte, bool) {
	if len(o.Salt) != saltLen || o.Name == "" {
		return nil, false
	}
	c := fieldCommitment(o.Salt, o.Name, o.Value)
	for _, candidate := range commitments {
		if bytes.Equal(candidate, c) {
			return c, true
		}
	}
	return nil, false
}

func canonicalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// displayValue renders a canonical JSON value for a public input: strings
// unquoted, everything else as JSON.
func displayValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var errNotDisclosable = errors.New("field is not present in the credential")
