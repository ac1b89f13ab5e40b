package server

import (
	"github.com/stretchr/testify/mock"

	"github.com/raterudder/powerbox/pkg/coordinator"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

type mockDevice struct {
	mock.Mock
}

func (m *mockDevice) Credentials() types.Credentials {
	args := m.Called()
	return args.Get(0).(types.Credentials)
}

func (m *mockDevice) Stats() powerbox.Stats {
	args := m.Called()
	return args.Get(0).(powerbox.Stats)
}

type mockRealtime struct {
	mock.Mock
}

func (m *mockRealtime) Snapshot() types.MeterSnapshot {
	args := m.Called()
	if snap, ok := args.Get(0).(types.MeterSnapshot); ok {
		return snap
	}
	return nil
}

func (m *mockRealtime) Status() coordinator.Status {
	args := m.Called()
	return args.Get(0).(coordinator.Status)
}

func (m *mockRealtime) GetMeterReading(model, field string) (types.MeterValue, bool) {
	args := m.Called(model, field)
	return args.Get(0).(types.MeterValue), args.Bool(1)
}

type mockConfig struct {
	mock.Mock
}

func (m *mockConfig) Snapshot() types.ConfigSnapshot {
	args := m.Called()
	if snap, ok := args.Get(0).(types.ConfigSnapshot); ok {
		return snap
	}
	return nil
}

func (m *mockConfig) Status() coordinator.Status {
	args := m.Called()
	return args.Get(0).(coordinator.Status)
}

func (m *mockConfig) GetConfigValue(key string) (string, bool) {
	args := m.Called(key)
	return args.String(0), args.Bool(1)
}
