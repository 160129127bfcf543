package e2e

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// RegisterSteps registers step definitions shared by every feature
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the credential service is running$`, tc.serviceIsRunning)
	ctx.Step(`^I am authenticated as "([^"]*)"$`, tc.authenticatedAs)
	ctx.Step(`^I am not authenticated$`, tc.notAuthenticated)

	// Request steps
	ctx.Step(`^I GET "([^"]*)"$`, tc.getPath)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should start with "([^"]*)"$`, tc.responseFieldShouldStartWith)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, tc.saveResponseField)
}

func (tc *TestContext) serviceIsRunning(ctx context.Context) error {
	if err := tc.GET("/status"); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(ctx, 200)
}

func (tc *TestContext) authenticatedAs(ctx context.Context, principal string) error {
	return tc.Authenticate(principal)
}

func (tc *TestContext) notAuthenticated(ctx context.Context) error {
	tc.ClearAuth()
	return nil
}

func (tc *TestContext) getPath(ctx context.Context, path string) error {
	for name, value := range tc.Saved {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	return tc.GET(path)
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	if got := tc.GetLastResponseStatus(); got != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expectedStatus, got, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseShouldContain(ctx context.Context, field string) error {
	if !tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain field: %s\nResponse: %s", field, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actual, err := tc.GetResponseString(field)
	if err != nil {
		return err
	}
	if actual != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %s", field, expectedValue, actual)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldStartWith(ctx context.Context, field, prefix string) error {
	actual, err := tc.GetResponseString(field)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(actual, prefix) {
		return fmt.Errorf("field %s: expected prefix %s but got %s", field, prefix, actual)
	}
	return nil
}

func (tc *TestContext) saveResponseField(ctx context.Context, field, name string) error {
	value, err := tc.GetResponseString(field)
	if err != nil {
		return err
	}
	tc.Save(name, value)
	return nil
}
