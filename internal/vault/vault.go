// Package vault masks, hashes and tokenizes card data for optional reuse.
// Raw PANs and CVVs never leave this package: only the mask, an opaque token
// and slow one-way hashes are persisted.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// DefaultProvider identifies this service as the token issuer.
const DefaultProvider = "acquiremock"

// SavedCard is a tokenized payment instrument bound to a payer email.
type SavedCard struct {
	Email       string    `json:"email"`
	CardToken   string    `json:"card_token"`
	CardHash    string    `json:"-"`
	CVVHash     string    `json:"-"`
	Expiry      string    `json:"expiry"`
	CardMask    string    `json:"card_mask"`
	PSPProvider string    `json:"psp_provider"`
	CreatedAt   time.Time `json:"created_at"`
}

// SuccessfulOperation is the denormalized receipt recorded once per settled payment.
type SuccessfulOperation struct {
	PaymentID   string    `json:"payment_id"`
	Email       string    `json:"email"`
	Amount      int64     `json:"amount"`
	Reference   string    `json:"reference"`
	CardMask    string    `json:"card_mask"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists saved cards and operation receipts. The vault is the only
// writer for both.
type Store interface {
	InsertSavedCard(ctx context.Context, card SavedCard) error
	ListSavedCardsByEmail(ctx context.Context, email string) ([]SavedCard, error)
	InsertOperation(ctx context.Context, op SuccessfulOperation) error
	ListOperationsByEmail(ctx context.Context, email string) ([]SuccessfulOperation, error)
}

// Vault tokenizes cards and answers per-user history lookups.
type Vault struct {
	Store    Store
	Params   *argon2id.Params
	Provider string
}

// Save hashes and tokenizes the card and persists the resulting record.
// The returned SavedCard never contains the raw PAN or CVV.
func (v Vault) Save(ctx context.Context, email, pan, cvv, expiry string) (SavedCard, error) {
	if v.Store == nil {
		return SavedCard{}, errors.New("vault: store not configured")
	}
	pan = strings.ReplaceAll(strings.TrimSpace(pan), " ", "")
	if len(pan) < 4 {
		return SavedCard{}, errors.New("vault: card number too short")
	}
	params := v.Params
	if params == nil {
		params = argon2id.DefaultParams
	}
	cardHash, err := argon2id.CreateHash(pan, params)
	if err != nil {
		return SavedCard{}, fmt.Errorf("vault: hash card: %w", err)
	}
	cvvHash, err := argon2id.CreateHash(cvv, params)
	if err != nil {
		return SavedCard{}, fmt.Errorf("vault: hash cvv: %w", err)
	}
	provider := v.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	card := SavedCard{
		Email:       strings.TrimSpace(email),
		CardToken:   "card_" + uuid.NewString(),
		CardHash:    cardHash,
		CVVHash:     cvvHash,
		Expiry:      strings.TrimSpace(expiry),
		CardMask:    ShortMask(pan),
		PSPProvider: provider,
		CreatedAt:   time.Now().UTC(),
	}
	if err := v.Store.InsertSavedCard(ctx, card); err != nil {
		return SavedCard{}, err
	}
	return card, nil
}

// RecordOperation appends a receipt for a settled payment.
func (v Vault) RecordOperation(ctx context.Context, op SuccessfulOperation) error {
	if v.Store == nil {
		return errors.New("vault: store not configured")
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	return v.Store.InsertOperation(ctx, op)
}

// Lookup returns the saved cards and receipts for exactly the given email.
func (v Vault) Lookup(ctx context.Context, email string) ([]SavedCard, []SuccessfulOperation, error) {
	if v.Store == nil {
		return nil, nil, errors.New("vault: store not configured")
	}
	email = strings.TrimSpace(email)
	cards, err := v.Store.ListSavedCardsByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	ops, err := v.Store.ListOperationsByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	return cards, ops, nil
}

// MaskPAN renders the long display mask, e.g. "**** **** **** 4444".
func MaskPAN(pan string) string {
	pan = strings.ReplaceAll(strings.TrimSpace(pan), " ", "")
	if len(pan) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + pan[len(pan)-4:]
}

// ShortMask renders the stored mask form, e.g. "**** 4444".
func ShortMask(pan string) string {
	pan = strings.ReplaceAll(strings.TrimSpace(pan), " ", "")
	if len(pan) < 4 {
		return "**** ****"
	}
	return "**** " + pan[len(pan)-4:]
}
