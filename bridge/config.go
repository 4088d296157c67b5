package bridge

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the main configuration
type Config struct {
	Env        string           `yaml:"env"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Broadcast  HubConfig        `yaml:"broadcast"`
	Window     WindowConfig     `yaml:"window"`
	Validation ValidationConfig `yaml:"validation"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	MySQL      MySQLConfig      `yaml:"mysql"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Env: "prod",
		Ingest: IngestConfig{
			Address:        ":12000",
			Framing:        FramingChunk,
			ReadBufferSize: defaultReadBufferSize,
		},
		Broadcast: HubConfig{
			Address:      ":8080",
			Path:         "/",
			MetricsPath:  "/metrics",
			WriteTimeout: 10 * time.Second,
		},
		Window: DefaultWindowConfig(),
		AMQP: AMQPConfig{
			Exchange:   "telemetry",
			ReadingKey: "battery.reading",
			AlertKey:   "battery.alert",
		},
		MySQL: MySQLConfig{
			Table: "battery_alert",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	f, err := ioutil.ReadFile(path)
	if err != nil {
		return c, err
	}

	if err := yaml.Unmarshal(f, &c); err != nil {
		return c, err
	}

	return c, c.Validate()
}

// Validate checks the whole configuration
func (c Config) Validate() error {
	switch c.Ingest.Framing {
	case FramingChunk, FramingNewline:
	default:
		return fmt.Errorf("ingest: unknown framing %q", c.Ingest.Framing)
	}
	if c.Ingest.Address == "" {
		return fmt.Errorf("ingest: address is required")
	}
	if c.Broadcast.Address == "" {
		return fmt.Errorf("broadcast: address is required")
	}
	if c.Broadcast.Path == "" || c.Broadcast.Path == c.Broadcast.MetricsPath {
		return fmt.Errorf("broadcast: path %q is invalid", c.Broadcast.Path)
	}

	if err := c.Window.Validate(); err != nil {
		return err
	}

	if c.AMQP.Enabled() {
		if c.AMQP.Exchange == "" {
			return fmt.Errorf("amqp: exchange is required")
		}
		if err := c.AMQP.ReadingKey.Validate(); err != nil {
			return err
		}
		if err := c.AMQP.AlertKey.Validate(); err != nil {
			return err
		}
	}

	if c.MySQL.Enabled() && !tableNameRegex.MatchString(c.MySQL.Table) {
		return fmt.Errorf("mysql: invalid table name %q", c.MySQL.Table)
	}

	return nil
}
