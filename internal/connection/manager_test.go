package connection_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/connection"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/registry"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/srg/sensorbridge/internal/testutils/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RejectsMalformedIDsWithoutTransportCall(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	connector := mocks.NewMockConnector(t) // no expectations: any call fails the test
	m := connection.NewManager(connector, helper.Logger)

	for _, id := range []string{"", "   ", "not-a-device", "A1B2C3D4 "} {
		t.Run("connect "+id, func(t *testing.T) {
			err := m.Connect(id)
			require.Error(t, err)
			assert.ErrorIs(t, err, device.ErrInvalidArgument)
			assert.False(t, m.Owned(id))
		})
		t.Run("disconnect "+id, func(t *testing.T) {
			assert.ErrorIs(t, m.Disconnect(id), device.ErrInvalidArgument)
		})
	}
	assert.NotEmpty(t, helper.LoggedMessages(logrus.WarnLevel), "rejections MUST be logged")
}

func TestManager_EmptyIDRecordsNoTransition(t *testing.T) {
	// GOAL: Verify connect("") produces InvalidArgument and the registry records no transition
	helper := testutils.NewTestHelper(t)
	tr := testutils.NewFakeTransport()
	d := event.NewDispatcher(helper.Logger)
	tr.SetEventSink(d)
	reg := registry.New(helper.Logger)
	reg.Attach(d)
	d.Start(t.Context())

	m := connection.NewManager(tr, helper.Logger)
	assert.ErrorIs(t, m.Connect(""), device.ErrInvalidArgument)
	d.Stop()

	assert.Empty(t, tr.Connects(), "transport MUST NOT be called")
	assert.Empty(t, reg.Snapshot(), "no transition MUST be recorded")
}

func TestManager_ConnectTracksOwnership(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	tr := testutils.NewFakeTransport().WithKnownDevice("A1B2C3D4").WithKnownDevice("AA:BB:CC:DD:EE:FF")
	d := event.NewDispatcher(helper.Logger)
	tr.SetEventSink(d)
	reg := registry.New(helper.Logger)
	reg.Attach(d)
	d.Start(t.Context())

	m := connection.NewManager(tr, helper.Logger)
	require.NoError(t, m.Connect("A1B2C3D4"))
	require.NoError(t, m.Connect("AA:BB:CC:DD:EE:FF"))
	assert.True(t, m.Owned("A1B2C3D4"))
	assert.ElementsMatch(t, []string{"A1B2C3D4", "AA:BB:CC:DD:EE:FF"}, m.OwnedIDs())

	t.Run("unknown device is passed through as invalid argument", func(t *testing.T) {
		err := m.Connect("C1B2C3D4")
		assert.ErrorIs(t, err, device.ErrInvalidArgument)
		assert.False(t, m.Owned("C1B2C3D4"))
	})

	require.NoError(t, m.DisconnectAll())
	d.Stop()

	assert.Empty(t, m.OwnedIDs())
	assert.ElementsMatch(t, []string{"A1B2C3D4", "AA:BB:CC:DD:EE:FF"}, tr.Disconnects())
	assert.Equal(t,
		[]device.ConnectionState{device.Connecting, device.Connected, device.Disconnected},
		reg.Transitions("A1B2C3D4"))
}

func TestManager_TransportFailureIsClassified(t *testing.T) {
	connector := mocks.NewMockConnector(t)
	bleErr := errors.New("hci: command disallowed")
	connector.On("ConnectDevice", "A1B2C3D4").Return(bleErr).Once()
	connector.On("DisconnectDevice", "A1B2C3D4").Return(device.ErrNotConnected).Once()

	m := connection.NewManager(connector, nil)

	err := m.Connect("A1B2C3D4")
	assert.ErrorIs(t, err, device.ErrTransport)
	assert.ErrorIs(t, err, bleErr)
	assert.False(t, m.Owned("A1B2C3D4"))

	err = m.Disconnect("A1B2C3D4")
	assert.ErrorIs(t, err, device.ErrNotConnected)
}
