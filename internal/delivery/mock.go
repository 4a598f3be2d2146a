package delivery

import (
	"context"
	"sync"

	"github.com/BTreeMap/OTAI/internal/models"
)

// MockDeliverer records referrals and returns a scripted result.
type MockDeliverer struct {
	mu        sync.Mutex
	Delivered []models.ReferralForm
	// DeliverFunc overrides the result when set. It may block or panic.
	DeliverFunc func(ctx context.Context, referral models.ReferralForm) Result
}

var _ Deliverer = (*MockDeliverer)(nil)

// NewMockDeliverer returns a mock that always succeeds.
func NewMockDeliverer() *MockDeliverer {
	return &MockDeliverer{}
}

func (m *MockDeliverer) Deliver(ctx context.Context, referral models.ReferralForm) Result {
	m.mu.Lock()
	m.Delivered = append(m.Delivered, referral)
	fn := m.DeliverFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, referral)
	}
	return Succeeded()
}

// Count returns how many deliveries were attempted.
func (m *MockDeliverer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Delivered)
}
