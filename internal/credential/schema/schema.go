// Package schema validates credential payloads against closed, versioned
// per-type schemas and produces the canonical bytes a dataHash is computed over.
package schema

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"

	"credanchor/internal/credential/models"
	dErrors "credanchor/pkg/domain-errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// DefaultVersion is used when a request names no schema version.
const DefaultVersion = "v1"

type key struct {
	t       models.CredentialType
	version string
}

// Registry holds the compiled schemas.
type Registry struct {
	schemas map[key]*gojsonschema.Schema
}

// Canonical is a validated payload in canonical form.
type Canonical struct {
	Bytes []byte
	Hash  models.DataHash
}

// NewRegistry compiles every embedded schema. File names are <type>.<version>.json.
func NewRegistry() (*Registry, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}

	r := &Registry{schemas: make(map[key]*gojsonschema.Schema, len(entries))}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		typeName, version, ok := strings.Cut(name, ".")
		if !ok {
			return nil, fmt.Errorf("schema file %s: expected <type>.<version>.json", e.Name())
		}
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", e.Name(), err)
		}
		r.schemas[key{t: models.CredentialType(typeName), version: version}] = compiled
	}
	return r, nil
}

// Supports reports whether a schema exists for t at version.
func (r *Registry) Supports(t models.CredentialType, version string) bool {
	_, ok := r.schemas[key{t: t, version: version}]
	return ok
}

// Canonicalize validates payload and returns its canonical bytes and hash.
// Unknown fields outside "extensions" are rejected.
func (r *Registry) Canonicalize(t models.CredentialType, version string, payload []byte) (*Canonical, error) {
	if version == "" {
		version = DefaultVersion
	}
	compiled, ok := r.schemas[key{t: t, version: version}]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("no schema for %s/%s", t, version))
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not valid JSON")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		sort.Strings(msgs)
		return nil, dErrors.New(dErrors.CodeValidation, "payload rejected: "+strings.Join(msgs, "; "))
	}

	if err := checkDocument(t, version, payload); err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload cannot be canonicalized")
	}
	return &Canonical{Bytes: canonical, Hash: Hash(canonical)}, nil
}

func checkDocument(t models.CredentialType, version string, payload []byte) error {
	doc, ok := newDocument(t, version)
	if !ok {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not a JSON object")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      doc,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(fields); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "payload rejected: "+err.Error())
	}
	if err := doc.check(); err != nil {
		return dErrors.New(dErrors.CodeValidation, "payload rejected: "+err.Error())
	}
	return nil
}

// Hash is the SHA-256 of canonical payload bytes.
func Hash(canonical []byte) models.DataHash {
	return models.DataHash(sha256.Sum256(canonical))
}

// Fields decodes canonical bytes into a field map, keeping numbers exact.
func Fields(canonical []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
