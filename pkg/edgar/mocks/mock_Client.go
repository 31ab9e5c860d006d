// Package mocks provides test doubles for the edgar client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	edgar "github.com/sells-group/research-pipeline/pkg/edgar"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// LookupCompany provides a mock function with given fields: ctx, name
func (_m *MockClient) LookupCompany(ctx context.Context, name string) (*edgar.Company, error) {
	ret := _m.Called(ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for LookupCompany")
	}

	var r0 *edgar.Company
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*edgar.Company)
	}
	return r0, ret.Error(1)
}

// Profile provides a mock function with given fields: ctx, cik
func (_m *MockClient) Profile(ctx context.Context, cik string) (*edgar.Profile, error) {
	ret := _m.Called(ctx, cik)

	if len(ret) == 0 {
		panic("no return value specified for Profile")
	}

	var r0 *edgar.Profile
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*edgar.Profile)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
