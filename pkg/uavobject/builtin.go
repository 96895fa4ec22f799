package uavobject

import "time"

// Object ids of the objects every dictionary carries.
const (
	GCSTelemetryStatsID    uint32 = 0xCAD1DC0A
	FlightTelemetryStatsID uint32 = 0x2F7E2902
	DictionaryInfoID       uint32 = 0x5A8C3E10
)

// Telemetry link status values of GCSTelemetryStats/FlightTelemetryStats.
const (
	StatusDisconnected = "Disconnected"
	StatusHandshakeReq = "HandshakeReq"
	StatusHandshakeAck = "HandshakeAck"
	StatusConnected    = "Connected"
)

func telemetryStats(id uint32, name string, mode UpdateMode, gcsAcked bool) *Definition {
	return &Definition{
		ID:             id,
		Name:           name,
		Description:    "Telemetry link statistics and handshake status",
		SingleInstance: true,
		Fields: []Field{
			{Name: "TxDataRate", Type: Float32, Units: "bytes/sec"},
			{Name: "RxDataRate", Type: Float32, Units: "bytes/sec"},
			{Name: "TxFailures", Type: Uint32, Units: "count"},
			{Name: "RxFailures", Type: Uint32, Units: "count"},
			{Name: "TxRetries", Type: Uint32, Units: "count"},
			{Name: "Status", Type: Enum, Options: []string{
				StatusDisconnected, StatusHandshakeReq, StatusHandshakeAck, StatusConnected,
			}},
		},
		Metadata: Metadata{
			Access:                   AccessReadWrite,
			GCSAccess:                AccessReadWrite,
			TelemetryAcked:           false,
			TelemetryUpdateMode:      mode,
			TelemetryUpdatePeriod:    5 * time.Second,
			GCSTelemetryAcked:        gcsAcked,
			GCSTelemetryUpdateMode:   UpdateModeManual,
			LoggingUpdateMode:        UpdateModeManual,
		},
	}
}

// Builtin returns the definitions required by the connection handshake.
func Builtin() []*Definition {
	return []*Definition{
		telemetryStats(GCSTelemetryStatsID, "GCSTelemetryStats", UpdateModeManual, true),
		telemetryStats(FlightTelemetryStatsID, "FlightTelemetryStats", UpdateModePeriodic, false),
		{
			ID:             DictionaryInfoID,
			Name:           "DictionaryInfo",
			Description:    "Fingerprint of the object dictionary compiled into the firmware",
			SingleInstance: true,
			Fields: []Field{
				{Name: "Hash", Type: Uint32},
				{Name: "NumObjects", Type: Uint16},
			},
			Metadata: Metadata{
				Access:                 AccessReadOnly,
				GCSAccess:              AccessReadOnly,
				TelemetryUpdateMode:    UpdateModeManual,
				GCSTelemetryUpdateMode: UpdateModeManual,
				LoggingUpdateMode:      UpdateModeManual,
			},
		},
	}
}

// NewBuiltinDictionary creates a dictionary with builtin and extra definitions.
func NewBuiltinDictionary(defs ...*Definition) *Dictionary {
	return NewDictionary(append(Builtin(), defs...)...)
}
