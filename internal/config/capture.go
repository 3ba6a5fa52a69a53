package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/lidar/parse"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

// CaptureConfig is the JSON capture configuration. Every field is optional;
// the Get* methods supply defaults for fields left out, so partial configs
// are safe.
type CaptureConfig struct {
	// Sensor
	SensorModel *string   `json:"sensor_model,omitempty"` // "vlp16" or "hdl32e"
	StrictModel *bool     `json:"strict_model,omitempty"`
	Transform   []float64 `json:"transform,omitempty"` // 16 values, row-major 4×4

	// Capture sources
	UDPPort   *int `json:"udp_port,omitempty"`
	UDPRcvBuf *int `json:"udp_rcv_buf,omitempty"`
	Snaplen   *int `json:"snaplen,omitempty"`

	// Pipeline
	MaxQueueSize     *int    `json:"max_queue_size,omitempty"`    // 0 = unbounded
	BackpressurePoll *string `json:"backpressure_poll,omitempty"` // duration string like "100ms"
	RetrievePoll     *string `json:"retrieve_poll,omitempty"`     // duration string like "1ms"
	StatsInterval    *string `json:"stats_interval,omitempty"`    // duration string like "10s"

	// Sinks
	PCDFormat *string `json:"pcd_format,omitempty"` // "ascii" or "binary"
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields unset.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/monitor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.SensorModel != nil {
		if _, err := parse.ParseSensorModel(*c.SensorModel); err != nil {
			return fmt.Errorf("sensor_model: %w", err)
		}
	}

	if c.Transform != nil {
		if _, err := l2frames.NewTransform(c.Transform); err != nil {
			return fmt.Errorf("transform: %w", err)
		}
	}

	for name, v := range map[string]*int{
		"udp_port":       c.UDPPort,
		"udp_rcv_buf":    c.UDPRcvBuf,
		"snaplen":        c.Snaplen,
		"max_queue_size": c.MaxQueueSize,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	if c.UDPPort != nil && *c.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be at most 65535, got %d", *c.UDPPort)
	}

	for name, v := range map[string]*string{
		"backpressure_poll": c.BackpressurePoll,
		"retrieve_poll":     c.RetrievePoll,
		"stats_interval":    c.StatsInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	if c.PCDFormat != nil {
		switch *c.PCDFormat {
		case "ascii", "binary":
		default:
			return fmt.Errorf("pcd_format must be \"ascii\" or \"binary\", got %q", *c.PCDFormat)
		}
	}

	return nil
}

// GetSensorModel returns the configured sensor model, VLP-16 by default.
func (c *CaptureConfig) GetSensorModel() parse.SensorModel {
	if c.SensorModel == nil {
		return parse.ModelVLP16
	}
	m, err := parse.ParseSensorModel(*c.SensorModel)
	if err != nil {
		return parse.ModelVLP16
	}
	return m
}

// GetStrictModel returns the strict_model value or the default.
func (c *CaptureConfig) GetStrictModel() bool {
	if c.StrictModel == nil {
		return false
	}
	return *c.StrictModel
}

// GetTransform builds the configured transform. It returns nil when none is
// configured.
func (c *CaptureConfig) GetTransform() (*l2frames.Transform, error) {
	if len(c.Transform) == 0 {
		return nil, nil
	}
	return l2frames.NewTransform(c.Transform)
}

// GetUDPPort returns the udp_port value or the Velodyne data port.
func (c *CaptureConfig) GetUDPPort() int {
	if c.UDPPort == nil {
		return 2368
	}
	return *c.UDPPort
}

// GetUDPRcvBuf returns the udp_rcv_buf value or the default.
func (c *CaptureConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 4 << 20
	}
	return *c.UDPRcvBuf
}

// GetSnaplen returns the snaplen value or the default.
func (c *CaptureConfig) GetSnaplen() int {
	if c.Snaplen == nil || *c.Snaplen == 0 {
		return 65535
	}
	return *c.Snaplen
}

// GetMaxQueueSize returns the max_queue_size value or the default (unbounded).
func (c *CaptureConfig) GetMaxQueueSize() int {
	if c.MaxQueueSize == nil {
		return 0
	}
	return *c.MaxQueueSize
}

// GetBackpressurePoll parses and returns BackpressurePoll as a time.Duration.
func (c *CaptureConfig) GetBackpressurePoll() time.Duration {
	return parseDurationOr(c.BackpressurePoll, 100*time.Millisecond)
}

// GetRetrievePoll parses and returns RetrievePoll as a time.Duration.
func (c *CaptureConfig) GetRetrievePoll() time.Duration {
	return parseDurationOr(c.RetrievePoll, time.Millisecond)
}

// GetStatsInterval parses and returns StatsInterval as a time.Duration.
func (c *CaptureConfig) GetStatsInterval() time.Duration {
	return parseDurationOr(c.StatsInterval, 10*time.Second)
}

// GetPCDFormat returns the pcd_format value or the default.
func (c *CaptureConfig) GetPCDFormat() string {
	if c.PCDFormat == nil {
		return "binary"
	}
	return *c.PCDFormat
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}
