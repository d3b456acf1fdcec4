package mocks

import (
	"context"

	"printgate/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockPrintService struct {
	mock.Mock
}

func (m *MockPrintService) Print(ctx context.Context, req service.PrintRequest) (*service.PrintResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PrintResult), args.Error(1)
}
