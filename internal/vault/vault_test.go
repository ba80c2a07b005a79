package vault_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/acquiremock/internal/vault"
)

type memStore struct {
	mu    sync.Mutex
	cards []vault.SavedCard
	ops   []vault.SuccessfulOperation
}

func (s *memStore) InsertSavedCard(_ context.Context, card vault.SavedCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, card)
	return nil
}

func (s *memStore) ListSavedCardsByEmail(_ context.Context, email string) ([]vault.SavedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.SavedCard
	for _, c := range s.cards {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) InsertOperation(_ context.Context, op vault.SuccessfulOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return nil
}

func (s *memStore) ListOperationsByEmail(_ context.Context, email string) ([]vault.SuccessfulOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.SuccessfulOperation
	for _, o := range s.ops {
		if o.Email == email {
			out = append(out, o)
		}
	}
	return out, nil
}

// fastParams keeps argon2id cheap in tests.
var fastParams = &argon2id.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestSaveNeverStoresRawValues(t *testing.T) {
	store := &memStore{}
	v := vault.Vault{Store: store, Params: fastParams}

	card, err := v.Save(context.Background(), "user@test.com", "4444 4444 4444 4444", "123", "12/25")
	require.NoError(t, err)

	require.Equal(t, "**** 4444", card.CardMask)
	require.Equal(t, vault.DefaultProvider, card.PSPProvider)
	require.True(t, strings.HasPrefix(card.CardToken, "card_"))
	require.NotContains(t, card.CardHash, "4444444444444444")
	require.NotContains(t, card.CVVHash, "123")
	require.True(t, strings.HasPrefix(card.CardHash, "$argon2id$"))

	match, err := argon2id.ComparePasswordAndHash("4444444444444444", card.CardHash)
	require.NoError(t, err)
	require.True(t, match)
	match, err = argon2id.ComparePasswordAndHash("1111111111111111", card.CardHash)
	require.NoError(t, err)
	require.False(t, match)
}

func TestLookupFiltersByExactEmail(t *testing.T) {
	store := &memStore{}
	v := vault.Vault{Store: store, Params: fastParams}
	ctx := context.Background()

	_, err := v.Save(ctx, "a@test.com", "4444444444444444", "123", "12/25")
	require.NoError(t, err)
	_, err = v.Save(ctx, "b@test.com", "4444444444444444", "123", "12/25")
	require.NoError(t, err)
	require.NoError(t, v.RecordOperation(ctx, vault.SuccessfulOperation{
		PaymentID: "pay-1", Email: "a@test.com", Amount: 5000, Reference: "ORDER-1",
	}))

	cards, ops, err := v.Lookup(ctx, "a@test.com")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Len(t, ops, 1)
	require.Equal(t, "a@test.com", cards[0].Email)

	cards, ops, err = v.Lookup(ctx, "c@test.com")
	require.NoError(t, err)
	require.Empty(t, cards)
	require.Empty(t, ops)
}

func TestMasks(t *testing.T) {
	require.Equal(t, "**** **** **** 4444", vault.MaskPAN("4444444444444444"))
	require.Equal(t, "**** **** **** 4444", vault.MaskPAN("4444 4444 4444 4444"))
	require.Equal(t, "**** **** **** ****", vault.MaskPAN("123"))
	require.Equal(t, "**** 4444", vault.ShortMask("4444444444444444"))
}
