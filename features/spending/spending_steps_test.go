package spending

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"aurum-outbox/internal/common/clock"
	types "aurum-outbox/internal/common/valueobjects"
	outboxmemory "aurum-outbox/internal/outbox/memory"
	"aurum-outbox/internal/spending/application"
	"aurum-outbox/internal/spending/domain"
	"aurum-outbox/internal/spending/infrastructure"
)

// spendingState drives the spend-authorization lifecycle scenarios directly
// against application.SpendingService, backed by the in-memory repositories
// and outbox store, mirroring the unit-of-work wiring used in
// application.service_test.go.
type spendingState struct {
	ctx     context.Context
	service *application.SpendingService

	tenantID       types.TenantID
	idempotencyKey string
	authID         string

	lastCreateResp  *application.CreateAuthorizationResponse
	lastCaptureResp *application.CaptureAuthorizationResponse
	lastAmount      types.Money
	lastErr         error

	idemSeq int
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	state := &spendingState{}

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		state.reset()
		return c, nil
	})

	// Background
	ctx.Step(`^a tenant "([^"]*)"$`, state.aTenant)

	// Authorization creation
	ctx.Step(`^an idempotency key "([^"]*)"$`, state.anIdempotencyKey)
	ctx.Step(`^I create an authorization for (\d+\.\d+) ([A-Z]{3})$`, state.iCreateAnAuthorizationFor)
	ctx.Step(`^the authorization should be in "([^"]*)" state$`, state.theAuthorizationShouldBeInState)
	ctx.Step(`^repeating the request returns the same authorization$`, state.repeatingTheRequestReturnsTheSameAuthorization)

	// Given authorization in state
	ctx.Step(`^an authorization for (\d+\.\d+) ([A-Z]{3}) in "([^"]*)" state$`, state.anAuthorizationForInState)

	// Capture
	ctx.Step(`^I capture (\d+\.\d+) ([A-Z]{3})$`, state.iCapture)
	ctx.Step(`^the captured amount should be (\d+\.\d+) ([A-Z]{3})$`, state.theCapturedAmountShouldBe)

	// Rejection scenarios
	ctx.Step(`^I attempt to capture (\d+\.\d+) ([A-Z]{3})$`, state.iAttemptToCapture)
	ctx.Step(`^the capture should be rejected with "([^"]*)"$`, state.theCaptureShouldBeRejectedWith)

	// Spending limits
	ctx.Step(`^a card account with spending limit (\d+\.\d+) ([A-Z]{3})$`, state.aCardAccountWithSpendingLimit)
	ctx.Step(`^existing authorizations totaling (\d+\.\d+) ([A-Z]{3})$`, state.existingAuthorizationsTotaling)
	ctx.Step(`^I attempt to create an authorization for (\d+\.\d+) ([A-Z]{3})$`, state.iAttemptToCreateAnAuthorizationFor)
	ctx.Step(`^the authorization should be rejected with "([^"]*)"$`, state.theAuthorizationShouldBeRejectedWith)
}

func (s *spendingState) reset() {
	s.ctx = context.Background()
	uow := outboxmemory.NewUnitOfWork()
	store := outboxmemory.NewStore()
	factory := infrastructure.NewRepositoriesFactory()
	s.service = application.NewSpendingService(uow, store, factory, factory.Reads(), clock.Real{})
	s.idemSeq = 0
	s.lastCreateResp = nil
	s.lastCaptureResp = nil
	s.lastErr = nil
}

func money(amount float64, currency string) types.Money {
	return types.New(decimal.NewFromFloat(amount), types.Currency(currency))
}

// mustAuthID parses the scenario's current authorization ID, panicking on
// failure since an invalid ID here means a prior step didn't set s.authID
// before this one ran -- a scenario-authoring bug, not a runtime condition.
func (s *spendingState) mustAuthID() domain.AuthorizationID {
	id, err := domain.ParseAuthorizationID(s.authID)
	if err != nil {
		panic(fmt.Sprintf("scenario step ran without a valid authorization id: %v", err))
	}
	return id
}

// nextIdempotencyKey mints a fresh key for steps that create an authorization
// without a scenario-supplied one, so each Given/When call is independent.
func (s *spendingState) nextIdempotencyKey() string {
	s.idemSeq++
	return fmt.Sprintf("auto-key-%d", s.idemSeq)
}

// Background steps

func (s *spendingState) aTenant(tenantID string) error {
	parsed, err := types.ParseTenantID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}
	s.tenantID = parsed
	return nil
}

func (s *spendingState) aCardAccountWithSpendingLimit(limit float64, currency string) error {
	_, err := s.service.CreateCardAccount(s.ctx, application.CreateCardAccountRequest{
		TenantID:      s.tenantID,
		SpendingLimit: money(limit, currency),
	})
	return err
}

// Authorization creation steps

func (s *spendingState) anIdempotencyKey(key string) error {
	s.idempotencyKey = key
	return nil
}

func (s *spendingState) iCreateAnAuthorizationFor(amount float64, currency string) error {
	key := s.idempotencyKey
	if key == "" {
		key = s.nextIdempotencyKey()
	}
	s.lastAmount = money(amount, currency)
	resp, err := s.service.CreateAuthorization(s.ctx, application.CreateAuthorizationRequest{
		TenantID:       s.tenantID,
		IdempotencyKey: key,
		Amount:         s.lastAmount,
		MerchantRef:    "merchant-1",
		Reference:      "ref-1",
		CorrelationID:  types.NewCorrelationID(),
	})
	s.lastCreateResp = resp
	s.lastErr = err
	if err == nil {
		s.authID = resp.AuthorizationID
	}
	return nil
}

func (s *spendingState) theAuthorizationShouldBeInState(expectedState string) error {
	if s.lastErr != nil {
		return fmt.Errorf("expected success, got error: %w", s.lastErr)
	}
	resp, err := s.service.GetAuthorization(s.ctx, application.GetAuthorizationRequest{
		TenantID:        s.tenantID,
		AuthorizationID: s.mustAuthID(),
	})
	if err != nil {
		return err
	}
	if resp.Status != expectedState {
		return fmt.Errorf("expected state %q, got %q", expectedState, resp.Status)
	}
	return nil
}

func (s *spendingState) repeatingTheRequestReturnsTheSameAuthorization() error {
	if s.lastErr != nil {
		return fmt.Errorf("expected the prior create to have succeeded, got error: %w", s.lastErr)
	}
	previous := s.authID

	resp, err := s.service.CreateAuthorization(s.ctx, application.CreateAuthorizationRequest{
		TenantID:       s.tenantID,
		IdempotencyKey: s.idempotencyKey,
		Amount:         s.lastAmount,
		MerchantRef:    "merchant-1",
		Reference:      "ref-1",
		CorrelationID:  types.NewCorrelationID(),
	})
	if err != nil {
		return err
	}
	if resp.AuthorizationID != previous {
		return fmt.Errorf("expected repeated request to return authorization %q, got %q", previous, resp.AuthorizationID)
	}
	return nil
}

// Given authorization steps

func (s *spendingState) anAuthorizationForInState(amount float64, currency, state string) error {
	resp, err := s.service.CreateAuthorization(s.ctx, application.CreateAuthorizationRequest{
		TenantID:       s.tenantID,
		IdempotencyKey: s.nextIdempotencyKey(),
		Amount:         money(amount, currency),
		MerchantRef:    "merchant-1",
		Reference:      "ref-1",
		CorrelationID:  types.NewCorrelationID(),
	})
	if err != nil {
		return err
	}
	s.authID = resp.AuthorizationID

	switch state {
	case "authorized":
		return nil
	case "captured":
		_, err := s.service.CaptureAuthorization(s.ctx, application.CaptureAuthorizationRequest{
			TenantID:        s.tenantID,
			AuthorizationID: s.mustAuthID(),
			IdempotencyKey:  s.nextIdempotencyKey(),
			Amount:          money(amount, currency),
			CorrelationID:   types.NewCorrelationID(),
		})
		return err
	default:
		return fmt.Errorf("unsupported starting state %q", state)
	}
}

// Capture steps

func (s *spendingState) iCapture(amount float64, currency string) error {
	resp, err := s.service.CaptureAuthorization(s.ctx, application.CaptureAuthorizationRequest{
		TenantID:        s.tenantID,
		AuthorizationID: s.mustAuthID(),
		IdempotencyKey:  s.nextIdempotencyKey(),
		Amount:          money(amount, currency),
		CorrelationID:   types.NewCorrelationID(),
	})
	s.lastCaptureResp = resp
	s.lastErr = err
	return err
}

func (s *spendingState) theCapturedAmountShouldBe(amount float64, currency string) error {
	if s.lastCaptureResp == nil {
		return fmt.Errorf("no capture response recorded")
	}
	expected := money(amount, currency).String()
	if s.lastCaptureResp.CapturedAmount != expected {
		return fmt.Errorf("expected captured amount %q, got %q", expected, s.lastCaptureResp.CapturedAmount)
	}
	return nil
}

// Rejection steps

func (s *spendingState) iAttemptToCapture(amount float64, currency string) error {
	_, err := s.service.CaptureAuthorization(s.ctx, application.CaptureAuthorizationRequest{
		TenantID:        s.tenantID,
		AuthorizationID: s.mustAuthID(),
		IdempotencyKey:  s.nextIdempotencyKey(),
		Amount:          money(amount, currency),
		CorrelationID:   types.NewCorrelationID(),
	})
	s.lastErr = err
	return nil
}

func (s *spendingState) theCaptureShouldBeRejectedWith(reason string) error {
	return s.assertRejected(reason)
}

// Spending limit steps

func (s *spendingState) existingAuthorizationsTotaling(total float64, currency string) error {
	_, err := s.service.CreateAuthorization(s.ctx, application.CreateAuthorizationRequest{
		TenantID:       s.tenantID,
		IdempotencyKey: s.nextIdempotencyKey(),
		Amount:         money(total, currency),
		MerchantRef:    "merchant-1",
		Reference:      "ref-1",
		CorrelationID:  types.NewCorrelationID(),
	})
	return err
}

func (s *spendingState) iAttemptToCreateAnAuthorizationFor(amount float64, currency string) error {
	resp, err := s.service.CreateAuthorization(s.ctx, application.CreateAuthorizationRequest{
		TenantID:       s.tenantID,
		IdempotencyKey: s.nextIdempotencyKey(),
		Amount:         money(amount, currency),
		MerchantRef:    "merchant-1",
		Reference:      "ref-1",
		CorrelationID:  types.NewCorrelationID(),
	})
	s.lastCreateResp = resp
	s.lastErr = err
	return nil
}

func (s *spendingState) theAuthorizationShouldBeRejectedWith(reason string) error {
	return s.assertRejected(reason)
}

// reasonForError maps a domain sentinel error to the human-readable reason
// phrases used by the feature file, the same mapping api.Handler uses to
// pick an HTTP status.
func reasonForError(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyCaptured):
		return "already captured"
	case errors.Is(err, domain.ErrSpendingLimitExceeded):
		return "spending limit exceeded"
	case errors.Is(err, domain.ErrExceedsAuthorizedAmount):
		return "capture amount exceeds authorized amount"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid state transition"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return "currency mismatch"
	case errors.Is(err, domain.ErrAuthorizationNotFound):
		return "authorization not found"
	case errors.Is(err, domain.ErrCardAccountNotFound):
		return "card account not found"
	default:
		return ""
	}
}

func (s *spendingState) assertRejected(reason string) error {
	if s.lastErr == nil {
		return fmt.Errorf("expected an error, got none")
	}
	if got := reasonForError(s.lastErr); got != reason {
		return fmt.Errorf("expected rejection reason %q, got %q (raw error: %v)", reason, got, s.lastErr)
	}
	return nil
}
