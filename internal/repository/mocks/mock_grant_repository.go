package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"printgate/internal/model"
)

type MockGrantRepository struct {
	mock.Mock
}

func (m *MockGrantRepository) FindByToken(ctx context.Context, token string) (*model.AccessGrant, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccessGrant), args.Error(1)
}

func (m *MockGrantRepository) ConsumePrint(ctx context.Context, grantID string) (int, error) {
	args := m.Called(ctx, grantID)
	return args.Int(0), args.Error(1)
}

type MockPrintLogRepository struct {
	mock.Mock
}

func (m *MockPrintLogRepository) Create(ctx context.Context, entry *model.PrintLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
