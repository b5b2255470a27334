// Package memory is an in-process ledger store. Write transactions are
// serialized and work on a private copy of the data that replaces the
// committed copy on Commit, so readers never observe partial state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

var errForeignTx = errors.New("memory: transaction was not started by this store")

type participantKey struct {
	ordinal   int
	accountID string
}

type orderKey struct {
	provider string
	orderID  string
}

type referralKey struct {
	referrerID string
	referredID string
	depositID  string
}

type data struct {
	accounts      map[string]*domain.Account
	emails        map[string]string
	stages        map[int]*domain.PresaleStage
	state         domain.PresaleState
	participants  map[participantKey]struct{}
	deposits      map[string]*domain.Deposit
	orders        map[orderKey]string
	entries       []*domain.Entry
	purchaseRefs  map[string]struct{}
	referrals     map[string]*domain.Referral
	referralIndex map[referralKey]string
	outbox        []*domain.OutboxEvent
	audit         []*domain.AuditLog
}

func newData() *data {
	return &data{
		accounts:      make(map[string]*domain.Account),
		emails:        make(map[string]string),
		stages:        make(map[int]*domain.PresaleStage),
		participants:  make(map[participantKey]struct{}),
		deposits:      make(map[string]*domain.Deposit),
		orders:        make(map[orderKey]string),
		purchaseRefs:  make(map[string]struct{}),
		referrals:     make(map[string]*domain.Referral),
		referralIndex: make(map[referralKey]string),
	}
}

// clone copies the containers. Stored values are treated as immutable:
// writers replace them with modified copies.
func (d *data) clone() *data {
	c := &data{
		accounts:      make(map[string]*domain.Account, len(d.accounts)),
		emails:        make(map[string]string, len(d.emails)),
		stages:        make(map[int]*domain.PresaleStage, len(d.stages)),
		state:         d.state,
		participants:  make(map[participantKey]struct{}, len(d.participants)),
		deposits:      make(map[string]*domain.Deposit, len(d.deposits)),
		orders:        make(map[orderKey]string, len(d.orders)),
		entries:       append([]*domain.Entry(nil), d.entries...),
		purchaseRefs:  make(map[string]struct{}, len(d.purchaseRefs)),
		referrals:     make(map[string]*domain.Referral, len(d.referrals)),
		referralIndex: make(map[referralKey]string, len(d.referralIndex)),
		outbox:        append([]*domain.OutboxEvent(nil), d.outbox...),
		audit:         append([]*domain.AuditLog(nil), d.audit...),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.emails {
		c.emails[k] = v
	}
	for k, v := range d.stages {
		c.stages[k] = v
	}
	for k := range d.participants {
		c.participants[k] = struct{}{}
	}
	for k, v := range d.deposits {
		c.deposits[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k := range d.purchaseRefs {
		c.purchaseRefs[k] = struct{}{}
	}
	for k, v := range d.referrals {
		c.referrals[k] = v
	}
	for k, v := range d.referralIndex {
		c.referralIndex[k] = v
	}
	return c
}

// Store holds the committed data and serializes writers.
type Store struct {
	sem       chan struct{}
	committed atomic.Pointer[data]
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{sem: make(chan struct{}, 1)}
	s.committed.Store(newData())
	return s
}

// Begin starts a write transaction, waiting for the current writer to finish.
func (s *Store) Begin(ctx context.Context) (usecase.Transaction, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, ctx.Err())
	}
	return &Tx{store: s, data: s.committed.Load().clone()}, nil
}

// update runs fn in its own transaction.
func (s *Store) update(ctx context.Context, fn func(*data) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx.(*Tx).data); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// snapshot returns the data visible to tx, or the committed data when tx is nil.
func (s *Store) snapshot(tx usecase.Transaction) (*data, error) {
	if tx == nil {
		return s.committed.Load(), nil
	}
	return s.writable(tx)
}

func (s *Store) writable(tx usecase.Transaction) (*data, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, errForeignTx
	}
	if t.done {
		return nil, errors.New("memory: transaction already closed")
	}
	return t.data, nil
}

// Tx is a write transaction on a Store.
type Tx struct {
	store *Store
	data  *data
	done  bool
}

// Commit publishes the transaction's data.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("memory: transaction already closed")
	}
	t.done = true
	t.store.committed.Store(t.data)
	<-t.store.sem
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.sem
	return nil
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	return m.store.Begin(ctx)
}
