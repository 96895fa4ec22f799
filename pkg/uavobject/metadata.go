package uavobject

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// UpdateMode governs when an object is transmitted.
type UpdateMode uint8

// Update modes.
const (
	// UpdateModePeriodic sends the object every update period.
	UpdateModePeriodic UpdateMode = iota
	// UpdateModeOnChange sends the object whenever it's updated.
	UpdateModeOnChange
	// UpdateModeThrottled sends changes, at most once per update period.
	UpdateModeThrottled
	// UpdateModeManual sends the object only when explicitly asked.
	UpdateModeManual
)

var updateModeNames = []string{"Periodic", "OnChange", "Throttled", "Manual"}

// String implements fmt.Stringer.
func (m UpdateMode) String() string {
	if int(m) < len(updateModeNames) {
		return updateModeNames[m]
	}
	return fmt.Sprintf("UpdateMode(%d)", m)
}

// UsesPeriod indicates the update period is meaningful for the mode.
func (m UpdateMode) UsesPeriod() bool {
	return m == UpdateModePeriodic || m == UpdateModeThrottled
}

// ParseUpdateMode parses a mode name, case insensitive.
func ParseUpdateMode(name string) (UpdateMode, error) {
	for n, s := range updateModeNames {
		if strings.EqualFold(s, strings.TrimSpace(name)) {
			return UpdateMode(n), nil
		}
	}
	return 0, fmt.Errorf("unknown update mode %q", name)
}

// Access is the access level of an object from one side.
type Access uint8

// Access levels.
const (
	AccessReadWrite Access = iota
	AccessReadOnly
)

var accessNames = []string{"ReadWrite", "ReadOnly"}

// String implements fmt.Stringer.
func (a Access) String() string {
	if int(a) < len(accessNames) {
		return accessNames[a]
	}
	return fmt.Sprintf("Access(%d)", a)
}

// ParseAccess parses an access name, case insensitive.
func ParseAccess(name string) (Access, error) {
	for n, s := range accessNames {
		if strings.EqualFold(s, strings.TrimSpace(name)) {
			return Access(n), nil
		}
	}
	return 0, fmt.Errorf("unknown access %q", name)
}

// Metadata is the telemetry configuration of an object.
// Telemetry* settings apply to flight to GCS traffic, GCSTelemetry* to
// GCS to flight traffic.
type Metadata struct {
	Access                   Access
	GCSAccess                Access
	TelemetryAcked           bool
	TelemetryUpdateMode      UpdateMode
	TelemetryUpdatePeriod    time.Duration
	GCSTelemetryAcked        bool
	GCSTelemetryUpdateMode   UpdateMode
	GCSTelemetryUpdatePeriod time.Duration
	LoggingUpdateMode        UpdateMode
	LoggingUpdatePeriod      time.Duration
}

// MetadataNumBytes is the packed size of Metadata.
const MetadataNumBytes = 19

// DefaultMetadata is used by metaobjects and definitions without explicit metadata.
var DefaultMetadata = Metadata{
	Access:                 AccessReadWrite,
	GCSAccess:              AccessReadWrite,
	TelemetryAcked:         true,
	TelemetryUpdateMode:    UpdateModeOnChange,
	GCSTelemetryAcked:      true,
	GCSTelemetryUpdateMode: UpdateModeOnChange,
	LoggingUpdateMode:      UpdateModeManual,
}

func normalizePeriod(mode UpdateMode, period time.Duration) time.Duration {
	if !mode.UsesPeriod() || period < 0 {
		return 0
	}
	return period.Truncate(time.Millisecond)
}

// Normalize zeroes periods that are meaningless for their mode.
func (m Metadata) Normalize() Metadata {
	m.TelemetryUpdatePeriod = normalizePeriod(m.TelemetryUpdateMode, m.TelemetryUpdatePeriod)
	m.GCSTelemetryUpdatePeriod = normalizePeriod(m.GCSTelemetryUpdateMode, m.GCSTelemetryUpdatePeriod)
	m.LoggingUpdatePeriod = normalizePeriod(m.LoggingUpdateMode, m.LoggingUpdatePeriod)
	return m
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func putPeriod(b []byte, d time.Duration) {
	binary.LittleEndian.PutUint32(b, uint32(d/time.Millisecond))
}

func getPeriod(b []byte) time.Duration {
	return time.Duration(binary.LittleEndian.Uint32(b)) * time.Millisecond
}

// Pack encodes normalized metadata.
func (m Metadata) Pack() []byte {
	m = m.Normalize()
	b := make([]byte, MetadataNumBytes)
	b[0] = byte(m.Access)
	b[1] = byte(m.GCSAccess)
	b[2] = boolByte(m.TelemetryAcked)
	b[3] = byte(m.TelemetryUpdateMode)
	putPeriod(b[4:8], m.TelemetryUpdatePeriod)
	b[8] = boolByte(m.GCSTelemetryAcked)
	b[9] = byte(m.GCSTelemetryUpdateMode)
	putPeriod(b[10:14], m.GCSTelemetryUpdatePeriod)
	b[14] = byte(m.LoggingUpdateMode)
	putPeriod(b[15:19], m.LoggingUpdatePeriod)
	return b
}

// UnpackMetadata decodes packed metadata.
func UnpackMetadata(b []byte) (m Metadata, err error) {
	if len(b) != MetadataNumBytes {
		return m, fmt.Errorf("metadata: %d bytes: %w", len(b), ErrSizeMismatch)
	}
	m.Access = Access(b[0])
	m.GCSAccess = Access(b[1])
	m.TelemetryAcked = b[2] != 0
	m.TelemetryUpdateMode = UpdateMode(b[3])
	m.TelemetryUpdatePeriod = getPeriod(b[4:8])
	m.GCSTelemetryAcked = b[8] != 0
	m.GCSTelemetryUpdateMode = UpdateMode(b[9])
	m.GCSTelemetryUpdatePeriod = getPeriod(b[10:14])
	m.LoggingUpdateMode = UpdateMode(b[14])
	m.LoggingUpdatePeriod = getPeriod(b[15:19])
	for _, mode := range []UpdateMode{m.TelemetryUpdateMode, m.GCSTelemetryUpdateMode, m.LoggingUpdateMode} {
		if int(mode) >= len(updateModeNames) {
			return m, fmt.Errorf("metadata: %v: %w", mode, ErrOutOfRange)
		}
	}
	return m.Normalize(), nil
}

// MetadataFrom decodes the metadata held by a metaobject instance.
func MetadataFrom(d Data) (Metadata, error) {
	if d.def == nil || !d.def.isMeta {
		return Metadata{}, fmt.Errorf("metadata: not a metaobject: %w", ErrTypeMismatch)
	}
	return UnpackMetadata(d.buf)
}

// MetaObjectID returns the id of the metaobject linked to an object.
func MetaObjectID(id uint32) uint32 {
	return id + 1
}

var metaFields = []Field{
	{Name: "Access", Type: Enum, Options: accessNames},
	{Name: "GCSAccess", Type: Enum, Options: accessNames},
	{Name: "TelemetryAcked", Type: Uint8},
	{Name: "TelemetryUpdateMode", Type: Enum, Options: updateModeNames},
	{Name: "TelemetryUpdatePeriod", Type: Uint32, Units: "ms"},
	{Name: "GCSTelemetryAcked", Type: Uint8},
	{Name: "GCSTelemetryUpdateMode", Type: Enum, Options: updateModeNames},
	{Name: "GCSTelemetryUpdatePeriod", Type: Uint32, Units: "ms"},
	{Name: "LoggingUpdateMode", Type: Enum, Options: updateModeNames},
	{Name: "LoggingUpdatePeriod", Type: Uint32, Units: "ms"},
}

// newMetaDefinition creates the metaobject definition of parent.
func newMetaDefinition(parent *Definition) *Definition {
	return &Definition{
		ID:             MetaObjectID(parent.ID),
		Name:           parent.Name + "Meta",
		Description:    "Metadata of " + parent.Name,
		SingleInstance: true,
		Fields:         append([]Field(nil), metaFields...),
		Metadata:       DefaultMetadata,
		isMeta:         true,
	}
}
