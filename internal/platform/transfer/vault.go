// Package transfer talks to the asset-transfer service that holds depositor
// and escrow balances. Client is the HTTP implementation; Vault keeps the
// balances in process.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

var (
	ErrInsufficientFunds = errors.New("transfer: insufficient funds")
	ErrBadAuthority      = errors.New("transfer: authority may not debit account")
	ErrKeyReused         = errors.New("transfer: idempotency key reused with different request")
)

// Vault implements domain.AssetTransferer over in-memory balances. An
// account may be debited only by an authority registered for it; by default
// every account is its own authority.
type Vault struct {
	mu          sync.Mutex
	balances    map[string]uint64
	authorities map[string]string
	applied     map[string]domain.TransferRequest
	log         []domain.TransferRequest
	// failNext errors are returned, in order, instead of applying transfers.
	failNext []error
	failKeys map[string]error
	faucet   uint64
}

// NewVault creates an empty Vault.
func NewVault() *Vault {
	return &Vault{
		balances:    make(map[string]uint64),
		authorities: make(map[string]string),
		applied:     make(map[string]domain.TransferRequest),
		failKeys:    make(map[string]error),
	}
}

// Fund credits account with amount.
func (v *Vault) Fund(account string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[account] += amount
}

// SetFaucet credits every account seen for the first time with amount.
// Development deployments use it in place of real deposits.
func (v *Vault) SetFaucet(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faucet = amount
}

// SetAuthority registers the authority allowed to debit account.
func (v *Vault) SetAuthority(account, authority string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.authorities[account] = authority
}

// Balance returns the balance of account.
func (v *Vault) Balance(account string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[account]
}

// Applied returns every transfer applied so far, in order.
func (v *Vault) Applied() []domain.TransferRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.TransferRequest(nil), v.log...)
}

// FailNext queues errors to be returned by the next Transfer calls.
func (v *Vault) FailNext(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = append(v.failNext, errs...)
}

// FailKey makes the next transfer carrying idempotency key fail with err.
func (v *Vault) FailKey(key string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failKeys[key] = err
}

// Transfer moves funds. A repeated IdempotencyKey with the same request is a
// no-op; with a different request it is rejected.
func (v *Vault) Transfer(_ context.Context, req domain.TransferRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.failNext) > 0 {
		err := v.failNext[0]
		v.failNext = v.failNext[1:]
		return err
	}
	if err, ok := v.failKeys[req.IdempotencyKey]; ok {
		delete(v.failKeys, req.IdempotencyKey)
		return err
	}
	if req.IdempotencyKey != "" {
		if prev, ok := v.applied[req.IdempotencyKey]; ok {
			if prev != req {
				return fmt.Errorf("%w: %s", ErrKeyReused, req.IdempotencyKey)
			}
			return nil
		}
	}
	if req.Amount == 0 {
		return fmt.Errorf("transfer: zero amount")
	}
	if _, seen := v.balances[req.From]; !seen && v.faucet > 0 {
		v.balances[req.From] = v.faucet
	}

	authority := req.From
	if a, ok := v.authorities[req.From]; ok {
		authority = a
	}
	if req.Authority != authority {
		return fmt.Errorf("%w: %s", ErrBadAuthority, req.From)
	}
	if v.balances[req.From] < req.Amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, req.From, v.balances[req.From], req.Amount)
	}

	v.balances[req.From] -= req.Amount
	v.balances[req.To] += req.Amount
	if req.IdempotencyKey != "" {
		v.applied[req.IdempotencyKey] = req
	}
	v.log = append(v.log, req)
	return nil
}

var _ domain.AssetTransferer = (*Vault)(nil)
