package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/vault"
)

const uniqueViolation = "23505"

// Postgres is the durable store backed by pgx.
type Postgres struct {
	Pool *pgxpool.Pool
}

const paymentColumns = `id, amount, reference, webhook_url, redirect_url, status,
	created_at, updated_at, expires_at, paid_at, otp_code, otp_email, card_mask, webhook_attempts`

func scanPayment(row pgx.Row) (payment.Payment, error) {
	var p payment.Payment
	var status string
	err := row.Scan(
		&p.ID, &p.Amount, &p.Reference, &p.WebhookURL, &p.RedirectURL, &status,
		&p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt, &p.PaidAt, &p.OTPCode, &p.OTPEmail,
		&p.CardMask, &p.WebhookAttempts,
	)
	if err != nil {
		return payment.Payment{}, err
	}
	p.Status = payment.Status(status)
	return p, nil
}

// CreatePayment inserts a new payment row.
func (s *Postgres) CreatePayment(ctx context.Context, p payment.Payment) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Amount, p.Reference, p.WebhookURL, p.RedirectURL, string(p.Status),
		p.CreatedAt, p.UpdatedAt, p.ExpiresAt, p.PaidAt, p.OTPCode, p.OTPEmail,
		p.CardMask, p.WebhookAttempts,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("payment %s already exists: %w", p.ID, err)
		}
		return err
	}
	return nil
}

// GetPayment loads a payment by id.
func (s *Postgres) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Payment{}, payment.ErrNotFound
	}
	return p, err
}

// UpdatePayment runs fn against the row locked with SELECT ... FOR UPDATE and
// writes the mutated record back in the same transaction. An error from fn
// rolls everything back.
func (s *Postgres) UpdatePayment(ctx context.Context, id string, fn func(*payment.Payment) error) (payment.Payment, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payment.Payment{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Payment{}, payment.ErrNotFound
		}
		return payment.Payment{}, err
	}

	if err := fn(&p); err != nil {
		return payment.Payment{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments SET
			amount = $2, reference = $3, webhook_url = $4, redirect_url = $5,
			status = $6, updated_at = $7, expires_at = $8, paid_at = $9,
			otp_code = $10, otp_email = $11, card_mask = $12, webhook_attempts = $13
		WHERE id = $1`,
		p.ID, p.Amount, p.Reference, p.WebhookURL, p.RedirectURL,
		string(p.Status), p.UpdatedAt, p.ExpiresAt, p.PaidAt,
		p.OTPCode, p.OTPEmail, p.CardMask, p.WebhookAttempts,
	)
	if err != nil {
		return payment.Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

// FindPaymentsByReference returns payments for a merchant reference, newest first.
func (s *Postgres) FindPaymentsByReference(ctx context.Context, reference string) ([]payment.Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE reference = $1 ORDER BY created_at DESC`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertSavedCard stores a tokenized card.
func (s *Postgres) InsertSavedCard(ctx context.Context, card vault.SavedCard) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO saved_cards (email, card_token, card_hash, cvv_hash, expiry, card_mask, psp_provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		card.Email, card.CardToken, card.CardHash, card.CVVHash, card.Expiry,
		card.CardMask, card.PSPProvider, card.CreatedAt,
	)
	return err
}

// ListSavedCardsByEmail returns the cards saved for the email, oldest first.
func (s *Postgres) ListSavedCardsByEmail(ctx context.Context, email string) ([]vault.SavedCard, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT email, card_token, card_hash, cvv_hash, expiry, card_mask, psp_provider, created_at
		FROM saved_cards WHERE email = $1 ORDER BY created_at`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.SavedCard
	for rows.Next() {
		var c vault.SavedCard
		if err := rows.Scan(&c.Email, &c.CardToken, &c.CardHash, &c.CVVHash, &c.Expiry, &c.CardMask, &c.PSPProvider, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertOperation stores a settlement receipt.
func (s *Postgres) InsertOperation(ctx context.Context, op vault.SuccessfulOperation) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO successful_operations (payment_id, email, amount, reference, card_mask, redirect_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		op.PaymentID, op.Email, op.Amount, op.Reference, op.CardMask, op.RedirectURL, op.CreatedAt,
	)
	return err
}

// ListOperationsByEmail returns the receipts recorded for the email, oldest first.
func (s *Postgres) ListOperationsByEmail(ctx context.Context, email string) ([]vault.SuccessfulOperation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT payment_id, email, amount, reference, card_mask, redirect_url, created_at
		FROM successful_operations WHERE email = $1 ORDER BY created_at`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.SuccessfulOperation
	for rows.Next() {
		var op vault.SuccessfulOperation
		if err := rows.Scan(&op.PaymentID, &op.Email, &op.Amount, &op.Reference, &op.CardMask, &op.RedirectURL, &op.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// InsertWebhookLog stores a delivery attempt record.
func (s *Postgres) InsertWebhookLog(ctx context.Context, entry notify.WebhookLog) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_logs (payment_id, webhook_url, payload, signature, attempt_number, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.PaymentID, entry.WebhookURL, entry.Payload, entry.Signature,
		entry.AttemptNumber, entry.Success, entry.Error, entry.CreatedAt,
	)
	return err
}

// ListWebhookLogs returns the delivery attempts for a payment in order.
func (s *Postgres) ListWebhookLogs(ctx context.Context, paymentID string) ([]notify.WebhookLog, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, payment_id, webhook_url, payload, signature, attempt_number, success, error, created_at
		FROM webhook_logs WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.WebhookLog
	for rows.Next() {
		var l notify.WebhookLog
		if err := rows.Scan(&l.ID, &l.PaymentID, &l.WebhookURL, &l.Payload, &l.Signature, &l.AttemptNumber, &l.Success, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
