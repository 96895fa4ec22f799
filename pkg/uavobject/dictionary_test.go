package uavobject

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadataPack(t *testing.T) {
	md := Metadata{
		Access:                   AccessReadOnly,
		GCSAccess:                AccessReadWrite,
		TelemetryAcked:           true,
		TelemetryUpdateMode:      UpdateModePeriodic,
		TelemetryUpdatePeriod:    1500 * time.Millisecond,
		GCSTelemetryAcked:        false,
		GCSTelemetryUpdateMode:   UpdateModeManual,
		GCSTelemetryUpdatePeriod: time.Second,
		LoggingUpdateMode:        UpdateModeThrottled,
		LoggingUpdatePeriod:      250 * time.Millisecond,
	}
	packed := md.Pack()
	require.Equal(t, []byte{
		1, 0, 1, 0, 0xdc, 0x05, 0, 0,
		0, 3, 0, 0, 0, 0,
		2, 0xfa, 0, 0, 0,
	}, packed)

	decoded, err := UnpackMetadata(packed)
	require.NoError(t, err)
	expected := md
	expected.GCSTelemetryUpdatePeriod = 0
	require.Equal(t, expected, decoded)

	packed[3] = 9
	_, err = UnpackMetadata(packed)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = UnpackMetadata(packed[:10])
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestMetaObjects(t *testing.T) {
	d := NewDictionary(testDefinition())
	meta, ok := d.MetaObject(0x1000)
	require.True(t, ok)
	require.Equal(t, uint32(0x1001), meta.ID)
	require.Equal(t, "TestObjectMeta", meta.Name)
	require.True(t, meta.SingleInstance)
	require.True(t, meta.IsMeta())
	require.True(t, d.IsMeta(0x1001))
	require.False(t, d.IsMeta(0x1000))
	require.Equal(t, MetadataNumBytes, meta.NumBytes())

	parent, ok := d.Parent(0x1001)
	require.True(t, ok)
	require.Equal(t, "TestObject", parent.Name)
	_, ok = d.Parent(0x1000)
	require.False(t, ok)

	data := meta.NewData()
	require.NoError(t, data.Unpack(DefaultMetadata.Pack()))
	mode, err := data.Enum("TelemetryUpdateMode", 0)
	require.NoError(t, err)
	require.Equal(t, "OnChange", mode)
	md, err := MetadataFrom(data)
	require.NoError(t, err)
	require.Equal(t, DefaultMetadata, md)

	_, err = MetadataFrom(parent.NewData())
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDictionaryRegister(t *testing.T) {
	d := NewBuiltinDictionary()
	require.Equal(t, 3, d.NumObjects())
	defs := d.Definitions()
	require.Len(t, defs, 6)
	for n := 1; n < len(defs); n++ {
		require.Less(t, defs[n-1].ID, defs[n].ID)
	}
	require.ErrorIs(t, d.Register(Builtin()[0]), ErrDuplicated)
	require.ErrorIs(t, d.Register(&Definition{ID: 0x1000, Name: "DictionaryInfo"}), ErrDuplicated)
	require.Equal(t, 3, d.NumObjects())

	def := testDefinition()
	require.NoError(t, d.Register(def))
	def.Name = "Changed"
	_, ok := d.ByName("TestObject")
	require.True(t, ok)
	_, ok = d.ByName("Changed")
	require.False(t, ok)
}

func TestDictionaryChecksum(t *testing.T) {
	a := NewBuiltinDictionary(testDefinition())
	b := NewBuiltinDictionary(testDefinition())
	require.Equal(t, a.Checksum(), b.Checksum())

	// registration order doesn't matter.
	c := NewDictionary(append([]*Definition{testDefinition()}, Builtin()...)...)
	require.Equal(t, a.Checksum(), c.Checksum())

	changed := testDefinition()
	changed.Fields[0].Type = Int32
	require.NotEqual(t, a.Checksum(), NewBuiltinDictionary(changed).Checksum())

	renamed := testDefinition()
	renamed.Fields[3].Options = []string{"Off", "On", "Manual"}
	require.NotEqual(t, a.Checksum(), NewBuiltinDictionary(renamed).Checksum())

	sum := a.Checksum()
	require.NoError(t, a.Register(&Definition{ID: 0x2000, Name: "Extra"}))
	require.NotEqual(t, sum, a.Checksum())
}

const testCatalog = `
objects:
  - name: AttitudeActual
    id: "0x33DAD5E6"
    singleinstance: true
    fields:
      - { name: Roll, type: float32, units: deg }
      - { name: Pitch, type: float32, units: deg }
      - { name: Armed, type: enum, options: [Disarmed, Arming, Armed] }
    metadata:
      telemetryacked: false
      telemetryupdatemode: periodic
      telemetryupdateperiod: 100
  - name: Waypoint
    id: 1234
    fields:
      - name: Position
        type: int32
        elements: 3
`

func TestLoadYAML(t *testing.T) {
	defs, err := LoadYAML(strings.NewReader(testCatalog))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	att := defs[0]
	require.Equal(t, uint32(0x33DAD5E6), att.ID)
	require.True(t, att.SingleInstance)
	require.Len(t, att.Fields, 3)
	require.Equal(t, Enum, att.Fields[2].Type)
	require.Equal(t, []string{"Disarmed", "Arming", "Armed"}, att.Fields[2].Options)
	require.False(t, att.Metadata.TelemetryAcked)
	require.Equal(t, UpdateModePeriodic, att.Metadata.TelemetryUpdateMode)
	require.Equal(t, 100*time.Millisecond, att.Metadata.TelemetryUpdatePeriod)
	require.True(t, att.Metadata.GCSTelemetryAcked)

	wp := defs[1]
	require.Equal(t, uint32(1234), wp.ID)
	require.False(t, wp.SingleInstance)
	require.Equal(t, DefaultMetadata, wp.Metadata)

	d := NewBuiltinDictionary(defs...)
	def := d.MustByName("Waypoint")
	require.Equal(t, 12, def.NumBytes())
}

func TestLoadYAMLErrors(t *testing.T) {
	testCases := map[string]string{
		"unknown type": "objects:\n  - { name: X, id: 2, fields: [{ name: A, type: double }] }\n",
		"missing id":   "objects:\n  - { name: X }\n",
		"bad mode":     "objects:\n  - { name: X, id: 2, metadata: { telemetryupdatemode: sometimes } }\n",
	}
	for name, content := range testCases {
		_, err := LoadYAML(strings.NewReader(content))
		require.Errorf(t, err, "%s should fail", name)
	}
}
