package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credanchor/pkg/domain-errors"
)

type proveBody struct {
	CredentialID string   `json:"credential_id" validate:"required"`
	ProofType    string   `json:"proof_type" validate:"oneof=existence attribute range"`
	Reason       string   `json:"reason,omitempty" validate:"omitempty,notblank,max=8"`
	Networks     []string `json:"networks" validate:"max=2,dive,required"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name string
		body proveBody
		want string
	}{
		{"required uses json name", proveBody{ProofType: "range"}, "credential_id is required"},
		{"oneof", proveBody{CredentialID: "c", ProofType: "membership"}, "proof_type must be one of [existence attribute range]"},
		{"notblank", proveBody{CredentialID: "c", ProofType: "range", Reason: "   "}, "reason must not be blank"},
		{"max", proveBody{CredentialID: "c", ProofType: "range", Reason: "far too long"}, "reason must be at most 8"},
		{"dive", proveBody{CredentialID: "c", ProofType: "range", Networks: []string{"sepolia", ""}}, "networks[1] is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.body)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStructPasses(t *testing.T) {
	assert.NoError(t, Struct(proveBody{CredentialID: "c", ProofType: "existence"}))
	assert.NoError(t, Struct("not a struct"))
}
