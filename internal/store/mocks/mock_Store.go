// Package mocks provides test doubles for the store.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/pharmacy-density/internal/model"
	store "github.com/sells-group/pharmacy-density/internal/store"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// SaveRun provides a mock function with given fields: ctx, run
func (_m *MockStore) SaveRun(ctx context.Context, run *model.Run) (string, error) {
	ret := _m.Called(ctx, run)

	if len(ret) == 0 {
		panic("no return value specified for SaveRun")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *model.Run) (string, error)); ok {
		return rf(ctx, run)
	}
	return ret.String(0), ret.Error(1)
}

// GetRun provides a mock function with given fields: ctx, runID
func (_m *MockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	ret := _m.Called(ctx, runID)

	if len(ret) == 0 {
		panic("no return value specified for GetRun")
	}

	var r0 *model.Run
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.Run, error)); ok {
		return rf(ctx, runID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// ListRuns provides a mock function with given fields: ctx, filter
func (_m *MockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	ret := _m.Called(ctx, filter)

	if len(ret) == 0 {
		panic("no return value specified for ListRuns")
	}

	var r0 []model.Run
	if rf, ok := ret.Get(0).(func(context.Context, store.RunFilter) ([]model.Run, error)); ok {
		return rf(ctx, filter)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Run)
	}
	return r0, ret.Error(1)
}

// SaveSections provides a mock function with given fields: ctx, runID, srid, sections
func (_m *MockStore) SaveSections(ctx context.Context, runID string, srid int, sections []model.SectionResult) (int64, error) {
	ret := _m.Called(ctx, runID, srid, sections)

	if len(ret) == 0 {
		panic("no return value specified for SaveSections")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, int, []model.SectionResult) (int64, error)); ok {
		return rf(ctx, runID, srid, sections)
	}
	return ret.Get(0).(int64), ret.Error(1)
}

// SavePharmacies provides a mock function with given fields: ctx, runID, pharmacies
func (_m *MockStore) SavePharmacies(ctx context.Context, runID string, pharmacies []store.Pharmacy) (int64, error) {
	ret := _m.Called(ctx, runID, pharmacies)

	if len(ret) == 0 {
		panic("no return value specified for SavePharmacies")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, []store.Pharmacy) (int64, error)); ok {
		return rf(ctx, runID, pharmacies)
	}
	return ret.Get(0).(int64), ret.Error(1)
}

// Migrate provides a mock function with given fields: ctx
func (_m *MockStore) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Migrate")
	}
	return ret.Error(0)
}

// Close provides a mock function with no fields
func (_m *MockStore) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}
	return ret.Error(0)
}

// NewMockStore creates a new instance of MockStore. It registers a cleanup
// function to assert the mocks expectations.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
