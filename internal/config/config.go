// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the gateway. It is immutable after
// Load; runtime intent lives in the persistence snapshot instead.
type Config struct {
	DeviceInstance int            `mapstructure:"device_instance"`
	Timezone       string         `mapstructure:"timezone"`
	PollIntervalMS int            `mapstructure:"poll_interval_ms"`
	Modbus         ModbusConfig   `mapstructure:"modbus"`
	Registers      RegisterConfig `mapstructure:"registers"`
	Defaults       DefaultsConfig `mapstructure:"defaults"`
	Controls       ControlsConfig `mapstructure:"controls"`
	Schedule       ScheduleConfig `mapstructure:"schedule"`
	Logging        LoggingConfig  `mapstructure:"logging"`
	Web            WebConfig      `mapstructure:"web"`
	Tibber         TibberConfig   `mapstructure:"tibber"`
	MQTT           MQTTConfig     `mapstructure:"mqtt"`
	Persistence    PersistConfig  `mapstructure:"persistence"`
}

// ModbusConfig describes the charger connection. The socket unit id
// serves telemetry and the set-point, the station unit id serves
// station-level limits and info strings.
type ModbusConfig struct {
	IP             string  `mapstructure:"ip"`
	Port           int     `mapstructure:"port"`
	SocketUnitID   int     `mapstructure:"socket_unit_id"`
	StationUnitID  int     `mapstructure:"station_unit_id"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

// Addr returns the dial address.
func (m ModbusConfig) Addr() string {
	return net.JoinHostPort(m.IP, fmt.Sprintf("%d", m.Port))
}

// Timeout returns the per-operation wall-clock budget.
func (m ModbusConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

// RegisterBlock is a base address plus length in 16-bit registers.
type RegisterBlock struct {
	Address uint16 `mapstructure:"address"`
	Count   uint16 `mapstructure:"count"`
}

// RegisterConfig is the charger register map.
type RegisterConfig struct {
	Voltages     RegisterBlock `mapstructure:"voltages"`
	Currents     RegisterBlock `mapstructure:"currents"`
	Power        RegisterBlock `mapstructure:"power"`
	Energy       RegisterBlock `mapstructure:"energy"`
	SocketState  RegisterBlock `mapstructure:"socket_state"`
	SetPoint     RegisterBlock `mapstructure:"set_point"`
	StationMax   RegisterBlock `mapstructure:"station_max"`
	ActivePhases RegisterBlock `mapstructure:"active_phases"`
	Firmware     RegisterBlock `mapstructure:"firmware"`
	Serial       RegisterBlock `mapstructure:"serial"`
	Manufacturer RegisterBlock `mapstructure:"manufacturer"`
}

// DefaultsConfig holds fallbacks used when the charger cannot be read.
type DefaultsConfig struct {
	IntendedSetCurrent float64 `mapstructure:"intended_set_current"`
	StationMaxCurrent  float64 `mapstructure:"station_max_current"`
}

// ControlsConfig tunes the control loop.
type ControlsConfig struct {
	CurrentTolerance          float64 `mapstructure:"current_tolerance"`
	UpdateDifferenceThreshold float64 `mapstructure:"update_difference_threshold"`
	VerificationDelaySeconds  float64 `mapstructure:"verification_delay_seconds"`
	RetryDelaySeconds         float64 `mapstructure:"retry_delay_seconds"`
	MaxRetries                int     `mapstructure:"max_retries"`
	WatchdogIntervalSeconds   float64 `mapstructure:"watchdog_interval_seconds"`
	MaxSetCurrent             float64 `mapstructure:"max_set_current"`
	MinChargeDurationSeconds  float64 `mapstructure:"min_charge_duration_seconds"`
}

func (c ControlsConfig) VerificationDelay() time.Duration {
	return time.Duration(c.VerificationDelaySeconds * float64(time.Second))
}

func (c ControlsConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds * float64(time.Second))
}

func (c ControlsConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds * float64(time.Second))
}

func (c ControlsConfig) MinChargeDuration() time.Duration {
	return time.Duration(c.MinChargeDurationSeconds * float64(time.Second))
}

// ScheduleConfig holds the charging windows for SCHEDULED mode.
type ScheduleConfig struct {
	Items []ScheduleItem `mapstructure:"items"`
}

// ScheduleItem is one charging window. DaysMask bit 0 is Sunday. The
// window wraps midnight when End <= Start.
type ScheduleItem struct {
	Enabled  int    `mapstructure:"enabled"`
	DaysMask int    `mapstructure:"days_mask"`
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// WebConfig binds the HTTP control surface.
type WebConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TibberConfig enables the dynamic-price provider.
type TibberConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	AccessToken       string `mapstructure:"access_token"`
	HomeID            string `mapstructure:"home_id"`
	ChargeOnVeryCheap bool   `mapstructure:"charge_on_very_cheap"`
	ChargeOnCheap     bool   `mapstructure:"charge_on_cheap"`
}

// MQTTConfig enables the host-bus mirror.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// PersistConfig locates the runtime state snapshot.
type PersistConfig struct {
	Path string `mapstructure:"path"`
}

// PollInterval returns the tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Load reads configuration from file and environment variables.
// Validation failures are repaired with defaults and logged as
// warnings; boot only fails when the file exists but cannot be parsed
// into the config shape at all.
func Load(configPath string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chargegate")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("failed to read config file, using defaults", zap.Error(err))
		}
	}

	v.SetEnvPrefix("CHARGEGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.validate(log)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_instance", 40)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("poll_interval_ms", 1000)

	v.SetDefault("modbus.ip", "192.168.1.100")
	v.SetDefault("modbus.port", 502)
	v.SetDefault("modbus.socket_unit_id", 1)
	v.SetDefault("modbus.station_unit_id", 200)
	v.SetDefault("modbus.timeout_seconds", 5.0)

	v.SetDefault("registers.voltages", map[string]any{"address": 306, "count": 6})
	v.SetDefault("registers.currents", map[string]any{"address": 320, "count": 6})
	v.SetDefault("registers.power", map[string]any{"address": 344, "count": 8})
	v.SetDefault("registers.energy", map[string]any{"address": 374, "count": 4})
	v.SetDefault("registers.socket_state", map[string]any{"address": 1201, "count": 5})
	v.SetDefault("registers.set_point", map[string]any{"address": 1210, "count": 2})
	v.SetDefault("registers.station_max", map[string]any{"address": 1100, "count": 2})
	v.SetDefault("registers.active_phases", map[string]any{"address": 1215, "count": 1})
	v.SetDefault("registers.firmware", map[string]any{"address": 123, "count": 17})
	v.SetDefault("registers.serial", map[string]any{"address": 157, "count": 11})
	v.SetDefault("registers.manufacturer", map[string]any{"address": 117, "count": 5})

	v.SetDefault("defaults.intended_set_current", 6.0)
	v.SetDefault("defaults.station_max_current", 32.0)

	v.SetDefault("controls.current_tolerance", 0.5)
	v.SetDefault("controls.update_difference_threshold", 0.1)
	v.SetDefault("controls.verification_delay_seconds", 2.0)
	v.SetDefault("controls.retry_delay_seconds", 1.0)
	v.SetDefault("controls.max_retries", 3)
	v.SetDefault("controls.watchdog_interval_seconds", 30.0)
	v.SetDefault("controls.max_set_current", 64.0)
	v.SetDefault("controls.min_charge_duration_seconds", 300.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", true)

	v.SetDefault("web.host", "127.0.0.1")
	v.SetDefault("web.port", 8088)

	v.SetDefault("tibber.enabled", false)
	v.SetDefault("tibber.charge_on_very_cheap", true)
	v.SetDefault("tibber.charge_on_cheap", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "chargegate")
	v.SetDefault("mqtt.topic_prefix", "chargegate")

	v.SetDefault("persistence.path", "/data/chargegate_state.json")
}

// validate repairs invalid fields in place, warning for each repair.
func (c *Config) validate(log *zap.Logger) {
	if c.Modbus.Port <= 0 || c.Modbus.Port > 65535 {
		log.Warn("invalid modbus port, using 502", zap.Int("port", c.Modbus.Port))
		c.Modbus.Port = 502
	}
	if c.Modbus.TimeoutSeconds <= 0 {
		c.Modbus.TimeoutSeconds = 5.0
	}
	if c.PollIntervalMS < 100 {
		log.Warn("poll interval too small, using 1000ms", zap.Int("poll_interval_ms", c.PollIntervalMS))
		c.PollIntervalMS = 1000
	}
	if c.Controls.MaxSetCurrent <= 0 {
		log.Warn("invalid max_set_current, using 64A", zap.Float64("max_set_current", c.Controls.MaxSetCurrent))
		c.Controls.MaxSetCurrent = 64.0
	}
	if c.Controls.MaxRetries < 1 {
		c.Controls.MaxRetries = 1
	}
	if c.Defaults.StationMaxCurrent <= 0 {
		c.Defaults.StationMaxCurrent = 32.0
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		log.Warn("invalid timezone, using UTC", zap.String("timezone", c.Timezone), zap.Error(err))
		c.Timezone = "UTC"
	}

	kept := c.Schedule.Items[:0]
	for i, item := range c.Schedule.Items {
		if _, err := ParseHHMM(item.Start); err != nil {
			log.Warn("schedule item has invalid start, dropping it",
				zap.Int("index", i), zap.String("start", item.Start), zap.Error(err))
			continue
		}
		if _, err := ParseHHMM(item.End); err != nil {
			log.Warn("schedule item has invalid end, dropping it",
				zap.Int("index", i), zap.String("end", item.End), zap.Error(err))
			continue
		}
		if item.DaysMask < 0 || item.DaysMask > 0x7F {
			log.Warn("schedule item has invalid days_mask, using all days",
				zap.Int("index", i), zap.Int("days_mask", item.DaysMask))
			item.DaysMask = 0x7F
		}
		kept = append(kept, item)
	}
	c.Schedule.Items = kept
}

// ParseHHMM parses "HH:MM" into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".chargegate")
}
