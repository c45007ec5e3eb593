package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

func TestVault_TransferIdempotent(t *testing.T) {
	v := NewVault()
	v.Fund("alice", 100)
	ctx := context.Background()

	req := domain.TransferRequest{From: "alice", To: "escrow", Amount: 40, Authority: "alice", IdempotencyKey: "k1"}
	require.NoError(t, v.Transfer(ctx, req))
	require.NoError(t, v.Transfer(ctx, req))

	assert.Equal(t, uint64(60), v.Balance("alice"))
	assert.Equal(t, uint64(40), v.Balance("escrow"))
	assert.Len(t, v.Applied(), 1)

	req.Amount = 41
	assert.ErrorIs(t, v.Transfer(ctx, req), ErrKeyReused)
}

func TestVault_Guards(t *testing.T) {
	v := NewVault()
	v.Fund("escrow", 10)
	v.SetAuthority("escrow", "auth")
	ctx := context.Background()

	err := v.Transfer(ctx, domain.TransferRequest{From: "escrow", To: "bob", Amount: 5, Authority: "bob"})
	assert.ErrorIs(t, err, ErrBadAuthority)

	err = v.Transfer(ctx, domain.TransferRequest{From: "escrow", To: "bob", Amount: 50, Authority: "auth"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	boom := errors.New("boom")
	v.FailNext(boom)
	err = v.Transfer(ctx, domain.TransferRequest{From: "escrow", To: "bob", Amount: 5, Authority: "auth"})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, v.Transfer(ctx, domain.TransferRequest{From: "escrow", To: "bob", Amount: 5, Authority: "auth"}))
	assert.Equal(t, uint64(5), v.Balance("bob"))
}

func TestVault_Faucet(t *testing.T) {
	v := NewVault()
	v.SetFaucet(1_000)
	ctx := context.Background()

	require.NoError(t, v.Transfer(ctx, domain.TransferRequest{From: "carol", To: "escrow", Amount: 300, Authority: "carol"}))
	assert.Equal(t, uint64(700), v.Balance("carol"))

	// The faucet only credits accounts on first sight.
	err := v.Transfer(ctx, domain.TransferRequest{From: "carol", To: "escrow", Amount: 800, Authority: "carol"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestClient_SignsRequests(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "secret"}
	var got domain.TransferRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ok := auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now(), time.Minute)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "settle:m:0", r.Header.Get("Idempotency-Key"))
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	req := domain.TransferRequest{From: "escrow", To: "bob", Amount: 7, Authority: "auth", IdempotencyKey: "settle:m:0"}
	require.NoError(t, NewClient(srv.URL, auth, 0).Transfer(context.Background(), req))
	assert.Equal(t, req, got)

	err := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "wrong"}, 0).Transfer(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
