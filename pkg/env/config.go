// Package env assembles a telemetry link from configuration.
//
// Defaults are overridden by UAVTALK_* environment variables, then by
// command line flags, then by settings present in a TOML file.
package env

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/uavtalk.go/pkg/connection"
	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/transport"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// Config provides common options to setup a link.
type Config struct {
	// LinkURL specifies the transport, see transport.Open.
	LinkURL string `toml:"link"`
	// DictionaryFile is a YAML catalog of objects beyond the builtin ones.
	DictionaryFile string `toml:"dictionary"`
	// MQTTBrokerURL enables the MQTT bridge,
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `toml:"mqtt"`
	// MetricsAddr is the listen address of Prometheus metrics.
	MetricsAddr string `toml:"metrics"`

	ReadTimeout time.Duration `toml:"read_timeout"`
	Timeout     time.Duration `toml:"timeout"`
	Retries     int           `toml:"retries"`
	StepTimeout time.Duration `toml:"step_timeout"`
	StatsPeriod time.Duration `toml:"stats_period"`
}

var defaultConfig = Config{
	LinkURL:     "serial:///dev/ttyUSB0?baud=57600",
	ReadTimeout: uavtalk.DefaultReadTimeout,
	Timeout:     uavtalk.DefaultTimeout,
	Retries:     telemetry.DefaultRetries,
	StepTimeout: connection.DefaultStepTimeout,
	StatsPeriod: connection.DefaultStatsPeriod,
}

func init() {
	if val := os.Getenv("UAVTALK_LINK"); val != "" {
		defaultConfig.LinkURL = val
	}
	if val := os.Getenv("UAVTALK_DICTIONARY"); val != "" {
		defaultConfig.DictionaryFile = val
	}
	if val := os.Getenv("UAVTALK_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("UAVTALK_METRICS_ADDR"); val != "" {
		defaultConfig.MetricsAddr = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.LinkURL, "link", defaultConfig.LinkURL, "Link URL: serial://, tcp://, ws://")
	flag.StringVar(&defaultConfig.DictionaryFile, "dict", defaultConfig.DictionaryFile, "Object dictionary YAML file")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.MetricsAddr, "metrics", defaultConfig.MetricsAddr, "Metrics listen address")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Acknowledgement timeout")
	flag.IntVar(&defaultConfig.Retries, "retries", defaultConfig.Retries, "Retries of timed out transactions")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// LoadFile overlays settings defined in a TOML file.
func (c *Config) LoadFile(fn string) error {
	var fileConf Config
	meta, err := toml.DecodeFile(fn, &fileConf)
	if err != nil {
		return fmt.Errorf("load config %s: %w", fn, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", fn, undecoded)
	}
	overlay := func(key string, apply func()) {
		if meta.IsDefined(key) {
			apply()
		}
	}
	overlay("link", func() { c.LinkURL = fileConf.LinkURL })
	overlay("dictionary", func() { c.DictionaryFile = fileConf.DictionaryFile })
	overlay("mqtt", func() { c.MQTTBrokerURL = fileConf.MQTTBrokerURL })
	overlay("metrics", func() { c.MetricsAddr = fileConf.MetricsAddr })
	overlay("read_timeout", func() { c.ReadTimeout = fileConf.ReadTimeout })
	overlay("timeout", func() { c.Timeout = fileConf.Timeout })
	overlay("retries", func() { c.Retries = fileConf.Retries })
	overlay("step_timeout", func() { c.StepTimeout = fileConf.StepTimeout })
	overlay("stats_period", func() { c.StatsPeriod = fileConf.StatsPeriod })
	return nil
}

// MustLoadFile loads the TOML file and fails on error.
func (c *Config) MustLoadFile(fn string) *Config {
	if err := c.LoadFile(fn); err != nil {
		log.Fatalln(err)
	}
	return c
}

// Dictionary creates the object dictionary.
func (c *Config) Dictionary() (*uavobject.Dictionary, error) {
	dict := uavobject.NewBuiltinDictionary()
	if c.DictionaryFile == "" {
		return dict, nil
	}
	defs, err := uavobject.LoadYAMLFile(c.DictionaryFile)
	if err != nil {
		return nil, err
	}
	if err = dict.Register(defs...); err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", c.DictionaryFile, err)
	}
	return dict, nil
}

// MustDictionary creates the dictionary and fails on error.
func (c *Config) MustDictionary() *uavobject.Dictionary {
	dict, err := c.Dictionary()
	if err != nil {
		log.Fatalln(err)
	}
	return dict
}

// Link is an assembled telemetry link.
type Link struct {
	Transport transport.Transport
	Engine    *uavtalk.Engine
	Objects   *telemetry.Manager
	Conn      *connection.Manager
}

// NewLink assembles a GCS side link over t.
func (c *Config) NewLink(t transport.Transport, dict *uavobject.Dictionary) *Link {
	engine := uavtalk.NewEngine(t, dict)
	if c.ReadTimeout > 0 {
		engine.ReadTimeout = c.ReadTimeout
	}
	if c.Timeout > 0 {
		engine.Timeout = c.Timeout
	}
	objects := telemetry.NewEngineManager(dict, engine)
	objects.Retries = c.Retries
	conn := connection.NewEngineManager(objects, engine)
	conn.Retries = c.Retries + 1
	if c.StepTimeout > 0 {
		conn.StepTimeout = c.StepTimeout
	}
	if c.StatsPeriod > 0 {
		conn.StatsPeriod = c.StatsPeriod
	}
	return &Link{Transport: t, Engine: engine, Objects: objects, Conn: conn}
}

// OpenLink opens the transport and assembles the link.
func (c *Config) OpenLink(ctx context.Context) (*Link, error) {
	dict, err := c.Dictionary()
	if err != nil {
		return nil, err
	}
	t, err := transport.Open(ctx, c.LinkURL)
	if err != nil {
		return nil, err
	}
	return c.NewLink(t, dict), nil
}

// MustOpenLink opens the link and fails on error.
func (c *Config) MustOpenLink(ctx context.Context) *Link {
	link, err := c.OpenLink(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	return link
}

// Start starts the engine and the object scheduler.
func (l *Link) Start() error {
	if err := l.Objects.Start(); err != nil {
		return err
	}
	return l.Engine.Start()
}

// Close stops everything and closes the transport.
func (l *Link) Close() error {
	l.Conn.Disconnect()
	l.Engine.Stop()
	l.Objects.Close()
	return l.Transport.Close()
}
