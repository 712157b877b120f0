package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSender is a mock implementation of the Sender interface for testing.
type MockSender struct {
	mock.Mock
}

// Send is the mock implementation of the Send method.
func (m *MockSender) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0) //nolint:wrapcheck
}
