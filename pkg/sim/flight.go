// Package sim simulates the flight side of a telemetry link.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// StatusTimeout bounds sending FlightTelemetryStats.
const StatusTimeout = time.Second

// FlightController answers the connection handshake and mirrors objects
// the way a flight controller does.
type FlightController struct {
	Engine  *uavtalk.Engine
	Objects *telemetry.Manager

	lock   sync.Mutex
	status string
	sub    *telemetry.Subscription
}

// NewFlightController creates a FlightController over t. DictionaryInfo
// is populated from dict.
func NewFlightController(dict *uavobject.Dictionary, t uavtalk.Transport) *FlightController {
	engine := uavtalk.NewEngine(t, dict)
	objects := telemetry.NewEngineManager(dict, engine)
	objects.Side = telemetry.SideFlight
	fc := &FlightController{
		Engine:  engine,
		Objects: objects,
		status:  uavobject.StatusDisconnected,
	}
	if def, ok := dict.Lookup(uavobject.DictionaryInfoID); ok {
		info := def.NewData()
		info.Set("Hash", 0, dict.Checksum())
		info.Set("NumObjects", 0, dict.NumObjects())
		objects.Set(def.ID, 0, info, false)
	}
	return fc
}

// Status returns the status reported to the GCS.
func (fc *FlightController) Status() string {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.status
}

// Start starts the engine and the update scheduler.
func (fc *FlightController) Start() error {
	sub, err := fc.Objects.RegisterObserver(uavobject.GCSTelemetryStatsID, 0,
		telemetry.ObserverFunc(fc.gcsStatsUpdated))
	if err != nil {
		return err
	}
	fc.lock.Lock()
	fc.sub = sub
	fc.lock.Unlock()
	if err = fc.Objects.Start(); err != nil {
		sub.Close()
		return err
	}
	if err = fc.Engine.Start(); err != nil {
		fc.Objects.Close()
		return err
	}
	return nil
}

// Close stops the FlightController.
func (fc *FlightController) Close() error {
	fc.Engine.Stop()
	return fc.Objects.Close()
}

// Run implements framework.Runnable.
func (fc *FlightController) Run(ctx context.Context) error {
	if err := fc.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	fc.Close()
	return ctx.Err()
}

func (fc *FlightController) gcsStatsUpdated(u telemetry.Update) {
	if !u.Remote {
		return
	}
	gcsStatus, err := u.Data.Enum("Status", 0)
	if err != nil {
		glog.Warningf("sim: GCSTelemetryStats: %v", err)
		return
	}
	fc.lock.Lock()
	next := fc.status
	switch gcsStatus {
	case uavobject.StatusHandshakeReq:
		next = uavobject.StatusHandshakeAck
	case uavobject.StatusConnected:
		if fc.status == uavobject.StatusHandshakeAck || fc.status == uavobject.StatusConnected {
			next = uavobject.StatusConnected
		}
	case uavobject.StatusDisconnected:
		next = uavobject.StatusDisconnected
	}
	if next != fc.status {
		glog.Infof("sim: %s -> %s", fc.status, next)
	}
	fc.status = next
	fc.lock.Unlock()

	if err := fc.sendStatus(next); err != nil {
		glog.Warningf("sim: send status: %v", err)
	}
}

func (fc *FlightController) sendStatus(status string) error {
	data, err := fc.Objects.Get(uavobject.FlightTelemetryStatsID, 0)
	if err != nil {
		return err
	}
	if err = data.Set("Status", 0, status); err != nil {
		return err
	}
	stats := fc.Engine.Stats()
	data.Set("TxFailures", 0, uint32(stats.TxErrors))
	data.Set("RxFailures", 0, uint32(stats.RxErrors))
	if err = fc.Objects.Set(uavobject.FlightTelemetryStatsID, 0, data, false); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), StatusTimeout)
	defer cancel()
	return fc.Objects.SendUpdate(ctx, uavobject.FlightTelemetryStatsID, 0)
}
