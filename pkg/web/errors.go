package web

import (
	"errors"

	"github.com/cadenzahq/cadenza/pkg/coordinator"
	"github.com/cadenzahq/cadenza/pkg/engine"
	"github.com/cadenzahq/cadenza/pkg/handoff"
	"github.com/cadenzahq/cadenza/pkg/orchestrator"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps the orchestration error taxonomy onto problem
// responses.
func handleDomainError(c fiber.Ctx, err error) error {
	var (
		policyErr     *coordinator.PolicyViolationError
		budgetErr     *coordinator.BudgetExceededError
		deniedErr     *coordinator.ApprovalDeniedError
		expiredErr    *coordinator.ApprovalExpiredError
		stopErr       *coordinator.EmergencyStopError
		validationErr *handoff.ValidationError
		unknownType   *handoff.UnknownTypeError
	)

	switch {
	case errors.As(err, &policyErr):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("policy_violation").
			WithDetail(policyErr.Decision.Message)

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.As(err, &budgetErr):
		return conflict(c, "budget_exceeded", budgetErr.Error())

	case errors.As(err, &deniedErr):
		return conflict(c, "approval_denied", deniedErr.Error())

	case errors.As(err, &expiredErr):
		return conflict(c, "approval_expired", expiredErr.Error())

	case errors.As(err, &stopErr):
		return conflict(c, "emergency_stop", stopErr.Error())

	case errors.As(err, &validationErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("handoff_validation_failed").
			WithDetail(validationErr.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &unknownType):
		return badRequest(c, unknownType.Error())

	case errors.Is(err, orchestrator.ErrProjectTerminal):
		return conflict(c, "project_terminal", err.Error())

	case errors.Is(err, engine.ErrExecutionTerminal):
		return conflict(c, "execution_terminal", err.Error())

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	default:
		return internalError(c, err)
	}
}
