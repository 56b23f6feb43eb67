// Package config loads the node configuration from a YAML file, a .env file
// and ENVNODE_* environment variables, in that order of precedence (last wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/envnode/w1"
)

const EnvPrefix = "ENVNODE_"

type Config struct {
	Node         string        `yaml:"node"`
	Interval     time.Duration `yaml:"interval"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	Temperature  Temperature   `yaml:"temperature"`
	CO2          CO2           `yaml:"co2"`
	Uplink       Uplink        `yaml:"uplink"`
}

type Temperature struct {
	Enabled bool `yaml:"enabled"`
	// Line names the GPIO carrying the 1-Wire bus, e.g. "GPIO4" or "7" for gobot.
	Line string `yaml:"line"`
	// Adapter selects the GPIO library: "periph" or "gobot".
	Adapter         string        `yaml:"adapter"`
	InternalPullUp  bool          `yaml:"internal_pull_up"`
	Timing          string        `yaml:"timing"`
	ConversionDelay time.Duration `yaml:"conversion_delay"`
	ScratchpadCRC   bool          `yaml:"scratchpad_crc"`
}

type CO2 struct {
	Enabled     bool          `yaml:"enabled"`
	Device      string        `yaml:"device"`
	BaudRate    int           `yaml:"baud_rate"`
	Attempts    int           `yaml:"attempts"`
	IdleBackoff time.Duration `yaml:"idle_backoff"`
}

type Uplink struct {
	Log    bool   `yaml:"log"`
	HTTP   HTTP   `yaml:"http"`
	Influx Influx `yaml:"influx"`
	Live   Live   `yaml:"live"`
}

type HTTP struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Live struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Node:         "envnode",
		Interval:     5 * time.Minute,
		CycleTimeout: 10 * time.Second,
		Temperature: Temperature{
			Enabled:         true,
			Line:            "GPIO4",
			Adapter:         "periph",
			Timing:          "default",
			ConversionDelay: 800 * time.Millisecond,
		},
		CO2: CO2{
			Enabled:     true,
			Device:      "/dev/ttyS1",
			BaudRate:    9600,
			Attempts:    3,
			IdleBackoff: 10 * time.Millisecond,
		},
		Uplink: Uplink{
			Log: true,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies .env
// files and the environment. An empty path skips the file.
func Load(path string, dotenv ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: could not read %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: could not parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (".env" when none given) into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: could not load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from ENVNODE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("NODE", &c.Node)
	str("W1_LINE", &c.Temperature.Line)
	str("CO2_DEVICE", &c.CO2.Device)
	str("HTTP_URL", &c.Uplink.HTTP.URL)
	str("HTTP_TOKEN", &c.Uplink.HTTP.Token)
	str("INFLUX_URL", &c.Uplink.Influx.URL)
	str("INFLUX_TOKEN", &c.Uplink.Influx.Token)
	str("INFLUX_ORG", &c.Uplink.Influx.Org)
	str("INFLUX_BUCKET", &c.Uplink.Influx.Bucket)
	str("LIVE_ADDR", &c.Uplink.Live.Addr)
}

func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.CycleTimeout < 0 {
		errs = append(errs, fmt.Errorf("cycle_timeout must not be negative, got %s", c.CycleTimeout))
	}
	if c.Temperature.Enabled {
		if c.Temperature.Line == "" {
			errs = append(errs, errors.New("temperature.line is required"))
		}
		switch c.Temperature.Adapter {
		case "periph", "gobot":
		default:
			errs = append(errs, fmt.Errorf("temperature.adapter: unknown adapter %q", c.Temperature.Adapter))
		}
		if _, err := w1.TimingsByName(c.Temperature.Timing); err != nil {
			errs = append(errs, fmt.Errorf("temperature.timing: %w", err))
		}
		if c.Temperature.ConversionDelay <= 0 {
			errs = append(errs, fmt.Errorf("temperature.conversion_delay must be positive, got %s", c.Temperature.ConversionDelay))
		}
	}
	if c.CO2.Enabled {
		if c.CO2.Device == "" {
			errs = append(errs, errors.New("co2.device is required"))
		}
		if c.CO2.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("co2.baud_rate must be positive, got %d", c.CO2.BaudRate))
		}
		if c.CO2.Attempts < 1 {
			errs = append(errs, fmt.Errorf("co2.attempts must be at least 1, got %d", c.CO2.Attempts))
		}
		if c.CO2.IdleBackoff <= 0 {
			errs = append(errs, fmt.Errorf("co2.idle_backoff must be positive, got %s", c.CO2.IdleBackoff))
		}
	}
	if !c.Temperature.Enabled && !c.CO2.Enabled {
		errs = append(errs, errors.New("at least one sensor must be enabled"))
	}
	inf := c.Uplink.Influx
	if inf.URL != "" && (inf.Org == "" || inf.Bucket == "") {
		errs = append(errs, errors.New("uplink.influx requires org and bucket"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Uplink.HTTP.Token = mask(c.Uplink.HTTP.Token)
	c.Uplink.Influx.Token = mask(c.Uplink.Influx.Token)
	return c
}

// Encode writes c as YAML.
func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encoding error: %w", err)
	}
	return enc.Close()
}
