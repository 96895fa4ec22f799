package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/transport"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

func TestFlightControllerHandshake(t *testing.T) {
	dict := uavobject.NewBuiltinDictionary()
	a, b := transport.NewPipe()
	defer a.Close()

	fc := NewFlightController(dict, b)
	fc.Engine.ReadTimeout = 10 * time.Millisecond
	require.NoError(t, fc.Start())
	defer fc.Close()

	engine := uavtalk.NewEngine(a, dict)
	engine.ReadTimeout = 10 * time.Millisecond
	gcs := telemetry.NewEngineManager(dict, engine)
	require.NoError(t, engine.Start())
	defer engine.Stop()
	defer gcs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := gcs.GetUpdate(ctx, uavobject.DictionaryInfoID, 0)
	require.NoError(t, err)
	hash, err := info.Uint("Hash", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(dict.Checksum()), hash)

	sendStatus := func(status string) {
		data, err := gcs.Get(uavobject.GCSTelemetryStatsID, 0)
		require.NoError(t, err)
		require.NoError(t, data.Set("Status", 0, status))
		require.NoError(t, gcs.Set(uavobject.GCSTelemetryStatsID, 0, data, false))
		require.NoError(t, gcs.SendUpdate(ctx, uavobject.GCSTelemetryStatsID, 0))
	}
	waitStatus := func(status string) {
		require.Eventually(t, func() bool {
			return fc.Status() == status
		}, time.Second, 5*time.Millisecond)
	}

	// Connected is ignored before the handshake is acknowledged.
	sendStatus(uavobject.StatusConnected)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, uavobject.StatusDisconnected, fc.Status())

	sendStatus(uavobject.StatusHandshakeReq)
	waitStatus(uavobject.StatusHandshakeAck)
	require.Eventually(t, func() bool {
		data, err := gcs.Get(uavobject.FlightTelemetryStatsID, 0)
		if err != nil {
			return false
		}
		status, err := data.Enum("Status", 0)
		return err == nil && status == uavobject.StatusHandshakeAck
	}, time.Second, 5*time.Millisecond)

	sendStatus(uavobject.StatusConnected)
	waitStatus(uavobject.StatusConnected)

	sendStatus(uavobject.StatusDisconnected)
	waitStatus(uavobject.StatusDisconnected)
}
