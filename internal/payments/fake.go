package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"amnezia-bot/internal/domain"
)

// FakeOracle is the development stand-in for the payment provider.
// Every payable settles after SettleAll (or immediately when AutoSettle
// is on), which makes the full purchase flow testable without network.
type FakeOracle struct {
	// AutoSettle makes every payable settled on the first status query.
	AutoSettle bool

	mu       sync.Mutex
	settled  map[string]Settlement
	failNext error
}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{settled: make(map[string]Settlement)}
}

func (f *FakeOracle) CreatePayable(_ context.Context, amount float64, label string) (Payable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return Payable{}, err
	}
	id := uuid.NewString()
	status := SettlementPending
	if f.AutoSettle {
		status = SettlementSettled
	}
	f.settled[id] = status
	return Payable{
		URL:        fmt.Sprintf("https://pay.example.invalid/%s?amount=%.2f&label=%s", id, amount, label),
		ExternalID: id,
	}, nil
}

func (f *FakeOracle) QueryStatus(_ context.Context, reference string) (Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return "", err
	}
	status, ok := f.settled[reference]
	if !ok {
		return "", domain.NotFound("payment %s is unknown to the oracle", reference)
	}
	return status, nil
}

// Settle marks one payable as settled.
func (f *FakeOracle) Settle(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled[reference] = SettlementSettled
}

// Fail marks one payable as failed.
func (f *FakeOracle) Fail(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled[reference] = SettlementFailed
}

// FailNext makes the next oracle call return err once.
func (f *FakeOracle) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}
