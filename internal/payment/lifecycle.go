package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/csrf"
	"github.com/noah-isme/acquiremock/internal/obs"
	"github.com/noah-isme/acquiremock/internal/otp"
	"github.com/noah-isme/acquiremock/internal/vault"
)

// AttemptLimiter bounds repeated OTP submissions per payment.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Lifecycle owns every state transition of a payment. All writes go through
// Store.UpdatePayment, so concurrent requests against the same payment are
// serialized and each outcome is reached exactly once.
type Lifecycle struct {
	Store      Store
	Guard      *csrf.Guard
	Vault      vault.Vault
	Dispatcher Dispatcher
	Logger     zerolog.Logger

	TTL            time.Duration
	OTPRequired    bool
	OTPLength      int
	OTPMaxAttempts int
	OTPLimiter     AttemptLimiter

	// Now is overridable in tests. Nil means time.Now.
	Now func() time.Time
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Lifecycle) dispatcher() Dispatcher {
	if l.Dispatcher == nil {
		return NopDispatcher{}
	}
	return l.Dispatcher
}

// CreateParams carries the merchant-supplied invoice fields.
type CreateParams struct {
	Amount      int64
	Reference   string
	WebhookURL  string
	RedirectURL string
}

// Create registers a new invoice in the pending state with a fresh checkout
// window.
func (l *Lifecycle) Create(ctx context.Context, params CreateParams) (Payment, error) {
	now := l.now()
	p := Payment{
		ID:          uuid.NewString(),
		Amount:      params.Amount,
		Reference:   common.CleanInput(params.Reference),
		WebhookURL:  strings.TrimSpace(params.WebhookURL),
		RedirectURL: strings.TrimSpace(params.RedirectURL),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(l.TTL),
	}
	if err := l.Store.CreatePayment(ctx, p); err != nil {
		return Payment{}, fmt.Errorf("create payment: %w", err)
	}
	obs.PaymentTransitionsTotal.WithLabelValues("", string(StatusPending)).Inc()
	l.Logger.Info().Str("payment_id", p.ID).Int64("amount", p.Amount).Str("reference", p.Reference).Msg("invoice created")
	return p, nil
}

// OpenCheckout resolves the payment for the checkout page and issues a fresh
// CSRF token for the session. A payment past its window is expired on read.
func (l *Lifecycle) OpenCheckout(ctx context.Context, id string) (Payment, string, error) {
	p, err := l.resolveActive(ctx, id)
	if err != nil {
		return Payment{}, "", err
	}
	token, err := l.Guard.Issue(ctx, p.ID)
	if err != nil {
		return Payment{}, "", fmt.Errorf("issue csrf token: %w", err)
	}
	return p, token, nil
}

// AuthorizeParams carries the checkout form submission.
type AuthorizeParams struct {
	PaymentID  string
	CardNumber string
	Expiry     string
	CVV        string
	Email      string
	SaveCard   bool

	CSRFCookie string
	CSRFForm   string
}

// Authorize runs the card check against the pending payment. With OTP enabled
// the payment moves to waiting_for_otp and a code is issued; otherwise it
// settles immediately. A declined card leaves the payment pending so the
// payer may retry within the window.
func (l *Lifecycle) Authorize(ctx context.Context, params AuthorizeParams) (Payment, error) {
	if _, err := l.resolveActive(ctx, params.PaymentID); err != nil {
		return Payment{}, err
	}
	if !l.Guard.Verify(ctx, params.PaymentID, params.CSRFCookie, params.CSRFForm) {
		return Payment{}, ErrCSRFMismatch(params.PaymentID)
	}

	pan := strings.ReplaceAll(strings.TrimSpace(params.CardNumber), " ", "")
	if pan != TestPAN {
		obs.PaymentAuthorizeTotal.WithLabelValues("declined").Inc()
		l.Logger.Info().Str("payment_id", params.PaymentID).Msg("card declined")
		return Payment{}, ErrInsufficientFunds(params.PaymentID)
	}

	email := strings.TrimSpace(params.Email)
	if params.SaveCard && email != "" {
		if _, err := l.Vault.Save(ctx, email, pan, params.CVV, params.Expiry); err != nil {
			return Payment{}, fmt.Errorf("save card: %w", err)
		}
	}

	var code string
	if l.OTPRequired {
		generated, err := otp.Generate(l.OTPLength)
		if err != nil {
			return Payment{}, fmt.Errorf("generate otp: %w", err)
		}
		code = generated
	}

	now := l.now()
	updated, err := l.Store.UpdatePayment(ctx, params.PaymentID, func(p *Payment) error {
		if p.Status != StatusPending {
			return l.stateError(*p)
		}
		p.CardMask = vault.MaskPAN(pan)
		p.OTPEmail = email
		p.UpdatedAt = now
		if l.OTPRequired {
			p.OTPCode = code
			p.Status = StatusWaitingForOTP
		} else {
			p.Status = StatusPaid
			p.PaidAt = &now
		}
		return nil
	})
	if err != nil {
		return Payment{}, l.asDomainError(params.PaymentID, err)
	}

	obs.PaymentAuthorizeTotal.WithLabelValues("approved").Inc()
	obs.PaymentTransitionsTotal.WithLabelValues(string(StatusPending), string(updated.Status)).Inc()
	if updated.Status == StatusPaid {
		l.settled(ctx, updated)
	} else {
		l.Logger.Info().Str("payment_id", updated.ID).Msg("otp challenge issued")
		l.dispatcher().OTPIssued(ctx, updated)
	}
	return updated, nil
}

// VerifyOTP checks the submitted code against the stored challenge and
// settles the payment on a match. Attempts are bounded per payment.
func (l *Lifecycle) VerifyOTP(ctx context.Context, id, code, csrfCookie, csrfForm string) (Payment, error) {
	p, err := l.resolveActive(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusWaitingForOTP {
		return Payment{}, ErrInvalidState(id)
	}
	if !l.Guard.Verify(ctx, id, csrfCookie, csrfForm) {
		return Payment{}, ErrCSRFMismatch(id)
	}
	if l.OTPLimiter != nil {
		window := time.Until(p.ExpiresAt)
		if window <= 0 {
			window = time.Minute
		}
		allowed, _, _, err := l.OTPLimiter.Allow(ctx, "otp:"+id, window, l.OTPMaxAttempts)
		if err != nil {
			return Payment{}, fmt.Errorf("otp attempt limit: %w", err)
		}
		if !allowed {
			obs.OTPValidationsTotal.WithLabelValues("exceeded").Inc()
			return Payment{}, ErrOTPAttemptsExceeded(id)
		}
	}

	now := l.now()
	updated, err := l.Store.UpdatePayment(ctx, id, func(p *Payment) error {
		if p.Status != StatusWaitingForOTP {
			return l.stateError(*p)
		}
		if !otp.Validate(p.OTPCode, strings.TrimSpace(code)) {
			return ErrInvalidOTP(id)
		}
		p.OTPCode = ""
		p.Status = StatusPaid
		p.PaidAt = &now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) && derr.Code == "INVALID_OTP" {
			obs.OTPValidationsTotal.WithLabelValues("invalid").Inc()
		}
		return Payment{}, l.asDomainError(id, err)
	}

	obs.OTPValidationsTotal.WithLabelValues("valid").Inc()
	obs.PaymentTransitionsTotal.WithLabelValues(string(StatusWaitingForOTP), string(StatusPaid)).Inc()
	l.settled(ctx, updated)
	return updated, nil
}

// Refund moves a settled payment to refunded. Only paid payments qualify.
func (l *Lifecycle) Refund(ctx context.Context, id string) (Payment, error) {
	now := l.now()
	updated, err := l.Store.UpdatePayment(ctx, id, func(p *Payment) error {
		if p.Status != StatusPaid {
			return ErrInvalidState(id)
		}
		p.Status = StatusRefunded
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Payment{}, l.asDomainError(id, err)
	}
	obs.PaymentTransitionsTotal.WithLabelValues(string(StatusPaid), string(StatusRefunded)).Inc()
	l.Logger.Info().Str("payment_id", id).Msg("payment refunded")
	return updated, nil
}

// Get returns the payment without touching its state.
func (l *Lifecycle) Get(ctx context.Context, id string) (Payment, error) {
	p, err := l.Store.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, l.asDomainError(id, err)
	}
	return p, nil
}

// settled records the receipt and hands the payment to the dispatcher.
func (l *Lifecycle) settled(ctx context.Context, p Payment) {
	l.Logger.Info().Str("payment_id", p.ID).Int64("amount", p.Amount).Msg("payment settled")
	if p.OTPEmail != "" {
		err := l.Vault.RecordOperation(ctx, vault.SuccessfulOperation{
			PaymentID:   p.ID,
			Email:       p.OTPEmail,
			Amount:      p.Amount,
			Reference:   p.Reference,
			CardMask:    p.CardMask,
			RedirectURL: p.RedirectURL,
			CreatedAt:   p.UpdatedAt,
		})
		if err != nil {
			l.Logger.Error().Err(err).Str("payment_id", p.ID).Msg("record operation")
		}
	}
	l.dispatcher().PaymentSettled(ctx, p)
}

// resolveActive loads the payment and enforces the checkout window. A payment
// whose window has passed is transitioned to expired before the error is
// returned, so the expiry is observable in later reads.
func (l *Lifecycle) resolveActive(ctx context.Context, id string) (Payment, error) {
	p, err := l.Store.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, l.asDomainError(id, err)
	}
	if p.Status.Terminal() {
		return Payment{}, l.stateError(p)
	}
	now := l.now()
	if now.After(p.ExpiresAt) {
		_, err := l.Store.UpdatePayment(ctx, id, func(p *Payment) error {
			if p.Status.Terminal() {
				return nil
			}
			p.Status = StatusExpired
			p.UpdatedAt = now
			return nil
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			l.Logger.Error().Err(err).Str("payment_id", id).Msg("expire payment")
		} else {
			obs.PaymentTransitionsTotal.WithLabelValues(string(p.Status), string(StatusExpired)).Inc()
		}
		return Payment{}, ErrExpired(id)
	}
	return p, nil
}

// stateError maps a terminal or unexpected status to the matching domain error.
func (l *Lifecycle) stateError(p Payment) *Error {
	switch p.Status {
	case StatusExpired:
		return ErrExpired(p.ID)
	case StatusPaid, StatusFailed, StatusRefunded:
		return ErrAlreadyProcessed(p.ID)
	default:
		return ErrInvalidState(p.ID)
	}
}

// asDomainError normalizes store errors: ErrNotFound becomes the 404 domain
// error, domain errors pass through, everything else stays an internal error.
func (l *Lifecycle) asDomainError(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFoundFor(id)
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	return err
}
