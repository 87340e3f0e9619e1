package config

import (
	"fmt"
	"time"
)

// AlgorithmConfig tunes the utilization hold loop of a single controller.
// It is immutable for the duration of a controller run.
type AlgorithmConfig struct {
	// OperatorSizeGb is the compute-tensor footprint in GB. Smaller
	// operators give finer utilization control but converge slower.
	OperatorSizeGb float64 `json:"operator_size_gb"`
	// UtilizationEpsilon is the convergence tolerance for the
	// sleep-time binary search.
	UtilizationEpsilon float64 `json:"utilization_epsilon"`
	// MaxSleepTime and MinSleepTime bound the search bracket, seconds.
	MaxSleepTime float64 `json:"max_sleep_time"`
	MinSleepTime float64 `json:"min_sleep_time"`
	// InspectInterval is the wall time in seconds between utilization
	// measurement windows.
	InspectInterval float64 `json:"inspect_interval"`
	// SamplesPerCheck is how many utilization samples are averaged per
	// measurement window.
	SamplesPerCheck int `json:"samples_per_check"`
}

// ControllerConfig is the policy for one hold cycle. It is replaced
// wholesale on every START/RESTART, never mutated field by field.
type ControllerConfig struct {
	// IdleWaitMinutes is the length of the idle-confirmation window.
	IdleWaitMinutes float64 `json:"idle_wait_minutes"`
	// MemThresholdGb is the max used memory in GB tolerated while the
	// device still counts as idle.
	MemThresholdGb float64 `json:"mem_threshold_gb"`
	// HoldMemGb is the target total footprint in GB. Zero means
	// "unset": half of total device memory is used at hold time.
	HoldMemGb float64 `json:"hold_mem_gb,omitempty"`
	// HoldUtil is the target utilization to maintain, in (0, 1).
	HoldUtil float64 `json:"hold_util"`

	Algorithm AlgorithmConfig `json:"algorithm"`
}

// LaunchConfig configures the daemon process itself.
type LaunchConfig struct {
	LogPath     string `json:"log_path"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
	Simulate    bool   `json:"simulate,omitempty"`
}

func NewAlgorithmConfig() AlgorithmConfig {
	return AlgorithmConfig{
		OperatorSizeGb:     1.0,
		UtilizationEpsilon: 0.01,
		MaxSleepTime:       1,
		MinSleepTime:       0,
		InspectInterval:    1,
		SamplesPerCheck:    5,
	}
}

func NewControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		IdleWaitMinutes: 10,
		MemThresholdGb:  0.01,
		HoldUtil:        0.5,
		Algorithm:       NewAlgorithmConfig(),
	}
}

func DefaultLogPath() string {
	return fmt.Sprintf("/tmp/doma/%s.log", time.Now().Format("20060102_150405"))
}

func NewLaunchConfig() *LaunchConfig {
	return &LaunchConfig{LogPath: DefaultLogPath()}
}

func (c *AlgorithmConfig) Validate() error {
	if c.OperatorSizeGb <= 0 {
		return fmt.Errorf("operator-size-gb must be > 0, got %v", c.OperatorSizeGb)
	}
	if c.UtilizationEpsilon <= 0 {
		return fmt.Errorf("utilization-epsilon must be > 0, got %v", c.UtilizationEpsilon)
	}
	if c.MaxSleepTime <= 0 {
		return fmt.Errorf("max-sleep-time must be > 0, got %v", c.MaxSleepTime)
	}
	if c.MinSleepTime < 0 {
		return fmt.Errorf("min-sleep-time must be >= 0, got %v", c.MinSleepTime)
	}
	if c.MinSleepTime > c.MaxSleepTime {
		return fmt.Errorf("min-sleep-time (%v) must not exceed max-sleep-time (%v)", c.MinSleepTime, c.MaxSleepTime)
	}
	if c.InspectInterval <= 0 {
		return fmt.Errorf("inspect-interval must be > 0, got %v", c.InspectInterval)
	}
	if c.SamplesPerCheck <= 0 {
		return fmt.Errorf("samples-per-check must be > 0, got %d", c.SamplesPerCheck)
	}
	return nil
}

func (c *ControllerConfig) Validate() error {
	if c.IdleWaitMinutes < 0.1 {
		return fmt.Errorf("idle-wait-minutes must be >= 0.1, got %v", c.IdleWaitMinutes)
	}
	if c.MemThresholdGb <= 0 {
		return fmt.Errorf("mem-threshold-gb must be > 0, got %v", c.MemThresholdGb)
	}
	if c.HoldMemGb < 0 {
		return fmt.Errorf("hold-mem-gb must be > 0 when set, got %v", c.HoldMemGb)
	}
	if c.HoldUtil <= 0 || c.HoldUtil >= 1 {
		return fmt.Errorf("hold-util must be in (0, 1), got %v", c.HoldUtil)
	}
	return c.Algorithm.Validate()
}

// WindowSize is the idle-confirmation window length in 1Hz samples.
func (c *ControllerConfig) WindowSize() int {
	return int(c.IdleWaitMinutes * 60)
}

// Flatten returns the config as ordered name/value pairs for display.
func (c *ControllerConfig) Flatten() [][2]string {
	return [][2]string{
		{"idle-wait-minutes", fmt.Sprintf("%v", c.IdleWaitMinutes)},
		{"mem-threshold-gb", fmt.Sprintf("%v", c.MemThresholdGb)},
		{"hold-mem-gb", holdMemRepr(c.HoldMemGb)},
		{"hold-util", fmt.Sprintf("%v", c.HoldUtil)},
		{"operator-size-gb", fmt.Sprintf("%v", c.Algorithm.OperatorSizeGb)},
		{"utilization-epsilon", fmt.Sprintf("%v", c.Algorithm.UtilizationEpsilon)},
		{"max-sleep-time", fmt.Sprintf("%v", c.Algorithm.MaxSleepTime)},
		{"min-sleep-time", fmt.Sprintf("%v", c.Algorithm.MinSleepTime)},
		{"inspect-interval", fmt.Sprintf("%v", c.Algorithm.InspectInterval)},
		{"samples-per-check", fmt.Sprintf("%d", c.Algorithm.SamplesPerCheck)},
	}
}

func holdMemRepr(gb float64) string {
	if gb == 0 {
		return "half of total device memory"
	}
	return fmt.Sprintf("%v", gb)
}
