package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/wled"
)

const (
	appName  = "wled-ambilight"
	fileName = "config.toml"
	// EnvPrefix prefixes environment overrides, e.g. AMBILIGHT_WLED_IP.
	EnvPrefix = "AMBILIGHT"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const readme = `Total LED count = (Horizontal + Vertical LEDs) * 2.
For best experience try matching aspect ratio of your display: H/(V+2) ~ 16/9.
+--------------------------------------+
|B ->        Horizontal LEDs          v |
+---+------------------------------+---+
| E |                              |   |
|   |                              | V |
| V |                              | e |
| e |                              | r |
| r |                              | t |
| t |     Display (front screen)   | i |
| i |                              | c |
| c |                              | a |
| a |                              | l |
| l |                              |   |
+---+------------------------------+---+
| ^          Horizontal LEDs         <- |
+--------------------------------------+
With enabled V-Sync max_fps is ignored.
B is starting point (index 0), clock-wise indexing, until E (last index).
wled_type:
  "Rgbw" sends RGBW values to WLED
  "Rgb" sends RGB values to WLED
wled_timeout: seconds WLED waits after the last frame before resuming its own effects.
preview_addr: host:port of the live preview page, empty to disable.
`

// Config is the streaming configuration.
type Config struct {
	Readme             string `mapstructure:"readme" toml:"readme,multiline,omitempty"`
	DisplayIndex       int    `mapstructure:"display_index" toml:"display_index"`
	LEDHorizontalCount int    `mapstructure:"led_horizontal_count" toml:"led_horizontal_count"`
	LEDVerticalCount   int    `mapstructure:"led_vertical_count" toml:"led_vertical_count"`
	IncludeCursor      bool   `mapstructure:"include_cursor" toml:"include_cursor"`
	MaxFPS             int    `mapstructure:"max_fps" toml:"max_fps"`
	EnableVSync        bool   `mapstructure:"enable_v_sync" toml:"enable_v_sync"`
	WLEDType           string `mapstructure:"wled_type" toml:"wled_type"`
	WLEDIP             string `mapstructure:"wled_ip" toml:"wled_ip"`
	WLEDTimeout        int    `mapstructure:"wled_timeout" toml:"wled_timeout"`
	PreviewAddr        string `mapstructure:"preview_addr" toml:"preview_addr"`
	Metrics            bool   `mapstructure:"metrics" toml:"metrics"`
}

// Default returns the configuration written on first start.
func Default() Config {
	return Config{
		Readme:             readme,
		DisplayIndex:       0,
		LEDHorizontalCount: 27,
		LEDVerticalCount:   14,
		IncludeCursor:      true,
		MaxFPS:             60,
		EnableVSync:        true,
		WLEDType:           wled.ModeRGBW.String(),
		WLEDIP:             "192.168.0.150",
		WLEDTimeout:        wled.DefaultTimeout,
		PreviewAddr:        "",
		Metrics:            true,
	}
}

// Validate checks ranges and the WLED type.
func (c *Config) Validate() error {
	if c.DisplayIndex < 0 {
		return errors.Wrapf(ErrInvalidConfig, "display_index must not be negative, got %d", c.DisplayIndex)
	}
	if c.LEDHorizontalCount < 2 {
		return errors.Wrapf(ErrInvalidConfig, "led_horizontal_count must be at least 2, got %d", c.LEDHorizontalCount)
	}
	if c.LEDVerticalCount <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "led_vertical_count must be positive, got %d", c.LEDVerticalCount)
	}
	if c.MaxFPS < 1 || c.MaxFPS > 1000 {
		return errors.Wrapf(ErrInvalidConfig, "max_fps must be between 1 and 1000, got %d", c.MaxFPS)
	}
	if strings.TrimSpace(c.WLEDIP) == "" {
		return errors.Wrap(ErrInvalidConfig, "wled_ip is required")
	}
	if _, err := wled.ParseMode(c.WLEDType); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "wled_type: %v", err)
	}
	if c.WLEDTimeout < 1 || c.WLEDTimeout > 255 {
		return errors.Wrapf(ErrInvalidConfig, "wled_timeout must be between 1 and 255, got %d", c.WLEDTimeout)
	}
	return nil
}

// LEDs is the horizontal and vertical LED count.
func (c *Config) LEDs() pixel.Dimension {
	return pixel.Dimension{Width: uint32(c.LEDHorizontalCount), Height: uint32(c.LEDVerticalCount)}
}

// RingSize is the number of LEDs on the strip.
func (c *Config) RingSize() int {
	return 2*c.LEDHorizontalCount + 2*c.LEDVerticalCount
}

// Mode returns the parsed wled_type. Call Validate first.
func (c *Config) Mode() wled.Mode {
	m, _ := wled.ParseMode(c.WLEDType)
	return m
}

// SearchPaths lists the directories searched for config.toml, in order.
func SearchPaths() []string {
	return []string{".", filepath.Join(xdg.ConfigHome, appName)}
}

// DefaultPath is where WriteDefault puts the config when no path is given.
// Missing parent directories are created.
func DefaultPath() (string, error) {
	p, err := xdg.ConfigFile(filepath.Join(appName, fileName))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve config path")
	}
	return p, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault("readme", d.Readme)
	v.SetDefault("display_index", d.DisplayIndex)
	v.SetDefault("led_horizontal_count", d.LEDHorizontalCount)
	v.SetDefault("led_vertical_count", d.LEDVerticalCount)
	v.SetDefault("include_cursor", d.IncludeCursor)
	v.SetDefault("max_fps", d.MaxFPS)
	v.SetDefault("enable_v_sync", d.EnableVSync)
	v.SetDefault("wled_type", d.WLEDType)
	v.SetDefault("wled_ip", d.WLEDIP)
	v.SetDefault("wled_timeout", d.WLEDTimeout)
	v.SetDefault("preview_addr", d.PreviewAddr)
	v.SetDefault("metrics", d.Metrics)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}
	return v
}

// Load reads the config from path, or from the search paths when path is
// empty. A missing file in the search paths is not an error: defaults and
// environment overrides apply and the returned file name is empty.
func Load(path string) (*Config, string, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, v.ConfigFileUsed(), err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Marshal encodes cfg as TOML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to encode config")
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default config to path. An existing file is kept
// unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("config file %s already exists", path)
		}
	}

	d := Default()
	data, err := Marshal(&d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}
