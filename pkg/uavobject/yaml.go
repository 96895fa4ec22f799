package uavobject

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

type yamlCatalog struct {
	Objects []yamlObject `yaml:"objects"`
}

type yamlObject struct {
	ID             interface{}   `yaml:"id"`
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	SingleInstance bool          `yaml:"singleinstance"`
	Settings       bool          `yaml:"settings"`
	Fields         []yamlField   `yaml:"fields"`
	Metadata       *yamlMetadata `yaml:"metadata"`
}

type yamlField struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Elements int      `yaml:"elements"`
	Options  []string `yaml:"options"`
	Units    string   `yaml:"units"`
}

type yamlMetadata struct {
	Access                   string `yaml:"access"`
	GCSAccess                string `yaml:"gcsaccess"`
	TelemetryAcked           *bool  `yaml:"telemetryacked"`
	TelemetryUpdateMode      string `yaml:"telemetryupdatemode"`
	TelemetryUpdatePeriod    uint32 `yaml:"telemetryupdateperiod"`
	GCSTelemetryAcked        *bool  `yaml:"gcstelemetryacked"`
	GCSTelemetryUpdateMode   string `yaml:"gcstelemetryupdatemode"`
	GCSTelemetryUpdatePeriod uint32 `yaml:"gcstelemetryupdateperiod"`
	LoggingUpdateMode        string `yaml:"loggingupdatemode"`
	LoggingUpdatePeriod      uint32 `yaml:"loggingupdateperiod"`
}

// LoadYAML reads object definitions from a YAML catalog:
//
//	objects:
//	  - name: AttitudeActual
//	    id: 0x33DAD5E6
//	    fields:
//	      - { name: Roll, type: float32, units: deg }
//	    metadata:
//	      telemetryupdatemode: periodic
//	      telemetryupdateperiod: 100
//
// Periods are in milliseconds. Absent metadata settings keep DefaultMetadata.
func LoadYAML(r io.Reader) ([]*Definition, error) {
	content, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var catalog yamlCatalog
	if err = yaml.Unmarshal(content, &catalog); err != nil {
		return nil, err
	}
	defs := make([]*Definition, 0, len(catalog.Objects))
	for n, obj := range catalog.Objects {
		def, err := obj.definition()
		if err != nil {
			return nil, fmt.Errorf("objects[%d] %s: %w", n, obj.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadYAMLFile reads object definitions from a YAML catalog file.
func LoadYAMLFile(fn string) ([]*Definition, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

func parseObjectID(v interface{}) (uint32, error) {
	var n uint64
	var err error
	switch id := v.(type) {
	case string:
		n, err = strconv.ParseUint(id, 0, 32)
	case uint64:
		n = id
	case int64:
		if id < 0 {
			return 0, fmt.Errorf("negative id %d: %w", id, ErrInvalidDefinition)
		}
		n = uint64(id)
	case int:
		if id < 0 {
			return 0, fmt.Errorf("negative id %d: %w", id, ErrInvalidDefinition)
		}
		n = uint64(id)
	case nil:
		return 0, fmt.Errorf("missing id: %w", ErrInvalidDefinition)
	default:
		return 0, fmt.Errorf("id of %T: %w", v, ErrInvalidDefinition)
	}
	if err != nil {
		return 0, err
	}
	if n > 0xffffffff {
		return 0, fmt.Errorf("id %x: %w", n, ErrOutOfRange)
	}
	return uint32(n), nil
}

func (o *yamlObject) definition() (*Definition, error) {
	id, err := parseObjectID(o.ID)
	if err != nil {
		return nil, err
	}
	def := &Definition{
		ID:             id,
		Name:           o.Name,
		Description:    o.Description,
		SingleInstance: o.SingleInstance,
		Settings:       o.Settings,
		Metadata:       DefaultMetadata,
	}
	for _, f := range o.Fields {
		ft, err := ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		def.Fields = append(def.Fields, Field{
			Name:     f.Name,
			Type:     ft,
			Elements: f.Elements,
			Options:  f.Options,
			Units:    f.Units,
		})
	}
	if o.Metadata != nil {
		if def.Metadata, err = o.Metadata.apply(def.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}
	return def, nil
}

func (m *yamlMetadata) apply(md Metadata) (Metadata, error) {
	var err error
	access := func(s string, a *Access) {
		if s != "" && err == nil {
			*a, err = ParseAccess(s)
		}
	}
	mode := func(s string, u *UpdateMode) {
		if s != "" && err == nil {
			*u, err = ParseUpdateMode(s)
		}
	}
	access(m.Access, &md.Access)
	access(m.GCSAccess, &md.GCSAccess)
	mode(m.TelemetryUpdateMode, &md.TelemetryUpdateMode)
	mode(m.GCSTelemetryUpdateMode, &md.GCSTelemetryUpdateMode)
	mode(m.LoggingUpdateMode, &md.LoggingUpdateMode)
	if err != nil {
		return md, err
	}
	if m.TelemetryAcked != nil {
		md.TelemetryAcked = *m.TelemetryAcked
	}
	if m.GCSTelemetryAcked != nil {
		md.GCSTelemetryAcked = *m.GCSTelemetryAcked
	}
	md.TelemetryUpdatePeriod = time.Duration(m.TelemetryUpdatePeriod) * time.Millisecond
	md.GCSTelemetryUpdatePeriod = time.Duration(m.GCSTelemetryUpdatePeriod) * time.Millisecond
	md.LoggingUpdatePeriod = time.Duration(m.LoggingUpdatePeriod) * time.Millisecond
	return md.Normalize(), nil
}
