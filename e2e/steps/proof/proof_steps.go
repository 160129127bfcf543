package proof

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetResponseField(path string) (any, error)
	GetResponseString(path string) (string, error)
	Lookup(name string) (string, error)
}

// RegisterSteps registers selective-disclosure proof steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &proofSteps{tc: tc}

	ctx.Step(`^I request an existence proof for the credential "([^"]*)"$`, steps.requestExistence)
	ctx.Step(`^I request an attribute proof of "([^"]*)" for the credential "([^"]*)"$`, steps.requestAttribute)
	ctx.Step(`^I request a range proof that "([^"]*)" is at least (-?\d+)$`, steps.requestRange)
	ctx.Step(`^I keep the returned proof$`, steps.keepProof)
	ctx.Step(`^I verify the kept proof$`, steps.verifyKept)
	ctx.Step(`^I verify the kept proof with public input (\d+) replaced by "([^"]*)"$`, steps.verifyTampered)
}

type proofSteps struct {
	tc           TestContext
	proof        string
	publicInputs []string
}

func (s *proofSteps) request(name, proofType string, extra map[string]any) error {
	id, err := s.tc.Lookup(name)
	if err != nil {
		return err
	}
	body := map[string]any{
		"credential_id": id,
		"proof_type":    proofType,
	}
	for k, v := range extra {
		body[k] = v
	}
	return s.tc.POST("/api/v1/proofs", body)
}

func (s *proofSteps) requestExistence(ctx context.Context, name string) error {
	return s.request(name, "existence", nil)
}

func (s *proofSteps) requestAttribute(ctx context.Context, attribute, name string) error {
	return s.request(name, "attribute", map[string]any{"attributes": []string{attribute}})
}

func (s *proofSteps) requestRange(ctx context.Context, name string, threshold int64) error {
	return s.request(name, "range", map[string]any{"threshold": threshold})
}

func (s *proofSteps) keepProof(ctx context.Context) error {
	proof, err := s.tc.GetResponseString("proof")
	if err != nil {
		return err
	}
	raw, err := s.tc.GetResponseField("public_inputs")
	if err != nil {
		return err
	}
	// round-trip through JSON to get []string back from []any
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var inputs []string
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("public_inputs: %w", err)
	}
	s.proof, s.publicInputs = proof, inputs
	return nil
}

func (s *proofSteps) verifyKept(ctx context.Context) error {
	return s.verify(s.publicInputs)
}

func (s *proofSteps) verifyTampered(ctx context.Context, index int, value string) error {
	if index >= len(s.publicInputs) {
		return fmt.Errorf("proof has %d public inputs", len(s.publicInputs))
	}
	tampered := append([]string(nil), s.publicInputs...)
	tampered[index] = value
	return s.verify(tampered)
}

func (s *proofSteps) verify(inputs []string) error {
	if s.proof == "" {
		return fmt.Errorf("no proof kept")
	}
	return s.tc.POST("/api/v1/proofs/verify", map[string]any{
		"proof":         s.proof,
		"public_inputs": inputs,
	})
}
