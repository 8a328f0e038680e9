package e2e

import (
	"github.com/cucumber/godog"

	"circlesphere/e2e/steps/common"
	"circlesphere/e2e/steps/payment"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	payment.RegisterSteps(ctx, tc)
}
