package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical acquisition defaults file.
const DefaultConfigPath = "config/acquire.defaults.json"

// MinFramesPerStack is the smallest stack depth the trimmed standard
// deviation is defined for: one sample is excluded as the maximum and the
// variance divides by depth-2.
const MinFramesPerStack = 3

// MaxFramesPerStack is bounded by the four-digit per-frame header keys of
// the FITS output.
const MaxFramesPerStack = 9999

// Configuration errors. Both are fatal at startup.
var (
	ErrInvalidDepth      = errors.New("frames per stack must be between 3 and 9999")
	ErrInvalidDimensions = errors.New("frame dimensions must be positive")
)

// Camera types understood by the frame source factory.
const (
	CameraCV2       = "CV2"
	CameraSynthetic = "SYNTHETIC"
	CameraReplay    = "REPLAY"
	CameraASI       = "ASI"
)

// Timestamp modes.
const (
	// TimestampMidpoint stamps a frame halfway between the read request and
	// its return.
	TimestampMidpoint = "midpoint"
	// TimestampSource uses the source's own capture time when it reports one.
	TimestampSource = "source"
)

// AcquireConfig is the root configuration for an acquisition run. Every
// field is optional; Get* accessors supply the defaults.
type AcquireConfig struct {
	// Observer / site
	ObservationsPath *string  `json:"observations_path,omitempty"`
	ObserverName     *string  `json:"observer_name,omitempty"`
	ObserverCOSPAR   *int     `json:"observer_cospar,omitempty"`
	ObserverLat      *float64 `json:"observer_lat,omitempty"` // degrees north
	ObserverLon      *float64 `json:"observer_lon,omitempty"` // degrees east
	ObserverEl       *float64 `json:"observer_el,omitempty"`  // metres

	// Scheduling
	AltSunset    *float64 `json:"alt_sunset,omitempty"`  // degrees
	AltSunrise   *float64 `json:"alt_sunrise,omitempty"` // degrees
	TestDuration *string  `json:"test_duration,omitempty"`

	// Camera
	CameraType     *string            `json:"camera_type,omitempty"`
	DeviceID       *int               `json:"device_id,omitempty"`
	Width          *int               `json:"nx,omitempty"`
	Height         *int               `json:"ny,omitempty"`
	FramesPerStack *int               `json:"nframes,omitempty"`
	CameraOptions  map[string]float64 `json:"camera_options,omitempty"`
	ReplayDir      *string            `json:"replay_dir,omitempty"`
	Live           *bool              `json:"live,omitempty"`
	LiveScale      *float64           `json:"live_scale,omitempty"`

	// Pipeline
	PollInterval        *string `json:"poll_interval,omitempty"`
	MaxConsecutiveDrops *int    `json:"max_consecutive_drops,omitempty"`
	TimestampMode       *string `json:"timestamp_mode,omitempty"`
	ReduceWorkers       *int    `json:"reduce_workers,omitempty"`

	// Outputs
	DatabasePath   *string `json:"database_path,omitempty"`
	Quicklook      *bool   `json:"quicklook,omitempty"`
	QuicklookWidth *int    `json:"quicklook_width,omitempty"`
}

// EmptyAcquireConfig returns an AcquireConfig with all fields set to nil.
func EmptyAcquireConfig() *AcquireConfig {
	return &AcquireConfig{}
}

// LoadConfig loads an AcquireConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*AcquireConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAcquireConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AcquireConfig) Validate() error {
	if c.FramesPerStack != nil && (*c.FramesPerStack < MinFramesPerStack || *c.FramesPerStack > MaxFramesPerStack) {
		return fmt.Errorf("%w: nframes=%d", ErrInvalidDepth, *c.FramesPerStack)
	}
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("%w: nx=%d", ErrInvalidDimensions, *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("%w: ny=%d", ErrInvalidDimensions, *c.Height)
	}

	if c.ObserverLat != nil && (*c.ObserverLat < -90 || *c.ObserverLat > 90) {
		return fmt.Errorf("observer_lat must be between -90 and 90, got %f", *c.ObserverLat)
	}
	if c.ObserverLon != nil && (*c.ObserverLon < -180 || *c.ObserverLon > 360) {
		return fmt.Errorf("observer_lon must be between -180 and 360, got %f", *c.ObserverLon)
	}

	for name, v := range map[string]*string{
		"test_duration": c.TestDuration,
		"poll_interval": c.PollInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.CameraType != nil {
		switch strings.ToUpper(*c.CameraType) {
		case CameraCV2, CameraSynthetic, CameraReplay:
		case CameraASI:
			return fmt.Errorf("camera_type %q is not supported by this build", *c.CameraType)
		default:
			return fmt.Errorf("unknown camera_type %q", *c.CameraType)
		}
		if strings.ToUpper(*c.CameraType) == CameraReplay && c.GetReplayDir() == "" {
			return fmt.Errorf("camera_type REPLAY requires replay_dir")
		}
	}

	if c.TimestampMode != nil {
		switch *c.TimestampMode {
		case TimestampMidpoint, TimestampSource:
		default:
			return fmt.Errorf("unknown timestamp_mode %q", *c.TimestampMode)
		}
	}

	if c.MaxConsecutiveDrops != nil && *c.MaxConsecutiveDrops < 1 {
		return fmt.Errorf("max_consecutive_drops must be at least 1, got %d", *c.MaxConsecutiveDrops)
	}
	if c.ReduceWorkers != nil && *c.ReduceWorkers < 0 {
		return fmt.Errorf("reduce_workers must be non-negative, got %d", *c.ReduceWorkers)
	}
	if c.LiveScale != nil && (*c.LiveScale <= 0 || *c.LiveScale > 1) {
		return fmt.Errorf("live_scale must be in (0, 1], got %g", *c.LiveScale)
	}
	if c.QuicklookWidth != nil && *c.QuicklookWidth <= 0 {
		return fmt.Errorf("quicklook_width must be positive, got %d", *c.QuicklookWidth)
	}

	return nil
}

// GetObservationsPath returns the observations_path value or the default.
func (c *AcquireConfig) GetObservationsPath() string {
	if c.ObservationsPath == nil || *c.ObservationsPath == "" {
		return "observations"
	}
	return *c.ObservationsPath
}

// GetObserverName returns the observer_name value or the default.
func (c *AcquireConfig) GetObserverName() string {
	if c.ObserverName == nil {
		return ""
	}
	return *c.ObserverName
}

// GetObserverCOSPAR returns the observer_cospar value or the default.
func (c *AcquireConfig) GetObserverCOSPAR() int {
	if c.ObserverCOSPAR == nil {
		return 0
	}
	return *c.ObserverCOSPAR
}

// GetObserverLat returns the observer_lat value or the default.
func (c *AcquireConfig) GetObserverLat() float64 {
	if c.ObserverLat == nil {
		return 0
	}
	return *c.ObserverLat
}

// GetObserverLon returns the observer_lon value or the default.
func (c *AcquireConfig) GetObserverLon() float64 {
	if c.ObserverLon == nil {
		return 0
	}
	return *c.ObserverLon
}

// GetObserverEl returns the observer_el value or the default.
func (c *AcquireConfig) GetObserverEl() float64 {
	if c.ObserverEl == nil {
		return 0
	}
	return *c.ObserverEl
}

// GetAltSunset returns the alt_sunset value or the default (civil dusk).
func (c *AcquireConfig) GetAltSunset() float64 {
	if c.AltSunset == nil {
		return -6.0
	}
	return *c.AltSunset
}

// GetAltSunrise returns the alt_sunrise value or the default (civil dawn).
func (c *AcquireConfig) GetAltSunrise() float64 {
	if c.AltSunrise == nil {
		return -6.0
	}
	return *c.AltSunrise
}

// GetTestDuration parses and returns the TestDuration as a time.Duration.
func (c *AcquireConfig) GetTestDuration() time.Duration {
	return parseDurationOr(c.TestDuration, 31*time.Minute)
}

// GetCameraType returns the upper-cased camera_type value or the default.
func (c *AcquireConfig) GetCameraType() string {
	if c.CameraType == nil || *c.CameraType == "" {
		return CameraCV2
	}
	return strings.ToUpper(*c.CameraType)
}

// GetDeviceID returns the device_id value or the default.
func (c *AcquireConfig) GetDeviceID() int {
	if c.DeviceID == nil {
		return 0
	}
	return *c.DeviceID
}

// GetWidth returns the nx value or the default.
func (c *AcquireConfig) GetWidth() int {
	if c.Width == nil {
		return 720
	}
	return *c.Width
}

// GetHeight returns the ny value or the default.
func (c *AcquireConfig) GetHeight() int {
	if c.Height == nil {
		return 576
	}
	return *c.Height
}

// GetFramesPerStack returns the nframes value or the default.
func (c *AcquireConfig) GetFramesPerStack() int {
	if c.FramesPerStack == nil {
		return 250
	}
	return *c.FramesPerStack
}

// GetReplayDir returns the replay_dir value or the default.
func (c *AcquireConfig) GetReplayDir() string {
	if c.ReplayDir == nil {
		return ""
	}
	return *c.ReplayDir
}

// GetLive returns the live value or the default.
func (c *AcquireConfig) GetLive() bool {
	if c.Live == nil {
		return false
	}
	return *c.Live
}

// GetLiveScale returns the live_scale value or the default.
func (c *AcquireConfig) GetLiveScale() float64 {
	if c.LiveScale == nil {
		return 1.0
	}
	return *c.LiveScale
}

// GetPollInterval parses and returns the reducer poll interval.
func (c *AcquireConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

// GetMaxConsecutiveDrops returns the max_consecutive_drops value or the default.
func (c *AcquireConfig) GetMaxConsecutiveDrops() int {
	if c.MaxConsecutiveDrops == nil {
		return 100
	}
	return *c.MaxConsecutiveDrops
}

// GetTimestampMode returns the timestamp_mode value or the default.
func (c *AcquireConfig) GetTimestampMode() string {
	if c.TimestampMode == nil || *c.TimestampMode == "" {
		return TimestampMidpoint
	}
	return *c.TimestampMode
}

// GetReduceWorkers returns the reduce_workers value; 0 means GOMAXPROCS.
func (c *AcquireConfig) GetReduceWorkers() int {
	if c.ReduceWorkers == nil {
		return 0
	}
	return *c.ReduceWorkers
}

// GetDatabasePath returns the database_path value, defaulting to
// observations.db under the observations path.
func (c *AcquireConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return filepath.Join(c.GetObservationsPath(), "observations.db")
	}
	return *c.DatabasePath
}

// GetQuicklook returns the quicklook value or the default.
func (c *AcquireConfig) GetQuicklook() bool {
	if c.Quicklook == nil {
		return false
	}
	return *c.Quicklook
}

// GetQuicklookWidth returns the quicklook_width value or the default.
func (c *AcquireConfig) GetQuicklookWidth() int {
	if c.QuicklookWidth == nil {
		return 480
	}
	return *c.QuicklookWidth
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
