package credential

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	POSTWithHeaders(path string, body any, headers map[string]string) error
	GetResponseString(path string) (string, error)
	Lookup(name string) (string, error)
	AdminToken() string
	SetNetworkDown(network string, down bool) error
	WaitConfirmedEverywhere(credentialID string) error
}

// RegisterSteps registers issuance, verification and revocation steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &credentialSteps{tc: tc}

	// Ledger steps
	ctx.Step(`^the ledger network "([^"]*)" is down$`, steps.networkIsDown)
	ctx.Step(`^the ledger network "([^"]*)" is back up$`, steps.networkIsUp)
	ctx.Step(`^the credential "([^"]*)" is confirmed on every network$`, steps.confirmedEverywhere)

	// Issuance steps
	ctx.Step(`^I issue a skill credential for "([^"]*)" with skill "([^"]*)" at proficiency (\d+)$`, steps.issueSkill)
	ctx.Step(`^I issue a skill credential for "([^"]*)" on behalf of "([^"]*)"$`, steps.issueOnBehalf)
	ctx.Step(`^I issue a "([^"]*)" credential for "([^"]*)" with payload:$`, steps.issueWithPayload)

	// Verification and revocation steps
	ctx.Step(`^I verify the credential "([^"]*)"$`, steps.verify)
	ctx.Step(`^I revoke the credential "([^"]*)" because "([^"]*)"$`, steps.revoke)

	// Admin steps
	ctx.Step(`^I trigger a reconcile pass with the admin token$`, steps.reconcileWithAdminToken)
	ctx.Step(`^I trigger a reconcile pass with admin token "([^"]*)"$`, steps.reconcileWithToken)
}

type credentialSteps struct {
	tc TestContext
}

func (s *credentialSteps) networkIsDown(ctx context.Context, network string) error {
	return s.tc.SetNetworkDown(network, true)
}

func (s *credentialSteps) networkIsUp(ctx context.Context, network string) error {
	return s.tc.SetNetworkDown(network, false)
}

func (s *credentialSteps) confirmedEverywhere(ctx context.Context, name string) error {
	id, err := s.tc.Lookup(name)
	if err != nil {
		return err
	}
	return s.tc.WaitConfirmedEverywhere(id)
}

func (s *credentialSteps) issueSkill(ctx context.Context, holder, skill string, proficiency int) error {
	return s.tc.POST("/api/v1/credentials/issue", map[string]any{
		"holder_ref":      holder,
		"credential_type": "skill",
		"payload":         skillPayload(skill, proficiency),
	})
}

func (s *credentialSteps) issueOnBehalf(ctx context.Context, holder, issuerRef string) error {
	return s.tc.POST("/api/v1/credentials/issue", map[string]any{
		"issuer_ref":      issuerRef,
		"holder_ref":      holder,
		"credential_type": "skill",
		"payload":         skillPayload("Go", 4),
	})
}

func (s *credentialSteps) issueWithPayload(ctx context.Context, credentialType, holder string, payload *godog.DocString) error {
	return s.tc.POST("/api/v1/credentials/issue", map[string]any{
		"holder_ref":      holder,
		"credential_type": credentialType,
		"payload":         rawJSON(payload.Content),
	})
}

func (s *credentialSteps) verify(ctx context.Context, name string) error {
	id, err := s.tc.Lookup(name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/v1/credentials/verify", map[string]any{
		"credential_id":   id,
		"include_details": true,
	})
}

func (s *credentialSteps) revoke(ctx context.Context, name, reason string) error {
	id, err := s.tc.Lookup(name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/v1/credentials/revoke", map[string]any{
		"credential_id": id,
		"reason":        reason,
	})
}

func (s *credentialSteps) reconcileWithAdminToken(ctx context.Context) error {
	return s.reconcileWithToken(ctx, s.tc.AdminToken())
}

func (s *credentialSteps) reconcileWithToken(ctx context.Context, token string) error {
	return s.tc.POSTWithHeaders("/admin/reconcile", map[string]any{}, map[string]string{
		"X-Admin-Token":    token,
		"X-Admin-Actor-ID": "e2e-operator",
	})
}

func skillPayload(skill string, proficiency int) map[string]any {
	return map[string]any{
		"name":          skill,
		"proficiency":   proficiency,
		"assessed_by":   "Acme Assessment Board",
		"assessed_year": 2025,
	}
}

// rawJSON keeps a doc string payload verbatim in the request body.
type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if r == "" {
		return nil, fmt.Errorf("empty payload")
	}
	return []byte(r), nil
}
