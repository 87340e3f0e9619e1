package config

import (
	"github.com/spf13/viper"
)

// Param is one named, typed CLI option. The flag surface is spelled
// out by hand instead of being derived from the config structs at
// runtime, so the mapping is greppable in both directions.
type Param struct {
	Name      string
	Shorthand string
	Value     interface{}
	Usage     string
}

func ControllerParams() []Param {
	def := NewControllerConfig()
	return []Param{
		{Name: "idle-wait-minutes", Value: def.IdleWaitMinutes, Usage: "minutes a device must stay idle before it is held"},
		{Name: "mem-threshold-gb", Value: def.MemThresholdGb, Usage: "max used memory in GB still counted as idle"},
		{Name: "hold-mem-gb", Value: 0.0, Usage: "memory to hold in GB, defaults to half of total device memory"},
		{Name: "hold-util", Value: def.HoldUtil, Usage: "target utilization to maintain (0-1)"},
		{Name: "operator-size-gb", Value: def.Algorithm.OperatorSizeGb, Usage: "operator buffer size in GB (smaller = finer control, slower convergence)"},
		{Name: "utilization-epsilon", Value: def.Algorithm.UtilizationEpsilon, Usage: "utilization convergence tolerance"},
		{Name: "max-sleep-time", Value: def.Algorithm.MaxSleepTime, Usage: "max sleep time in seconds between compute iterations"},
		{Name: "min-sleep-time", Value: def.Algorithm.MinSleepTime, Usage: "min sleep time in seconds between compute iterations"},
		{Name: "inspect-interval", Value: def.Algorithm.InspectInterval, Usage: "seconds between utilization measurement windows"},
		{Name: "samples-per-check", Value: def.Algorithm.SamplesPerCheck, Usage: "utilization samples averaged per measurement window"},
	}
}

func LaunchParams() []Param {
	return []Param{
		{Name: "log-path", Value: DefaultLogPath(), Usage: "daemon log file path"},
		{Name: "metrics-addr", Value: "", Usage: "address to expose prometheus metrics on, empty disables the exporter"},
		{Name: "simulate", Value: false, Usage: "use a simulated gpu runtime instead of nvml"},
	}
}

// ControllerFromViper assembles and validates a ControllerConfig from
// the bound flag/env values.
func ControllerFromViper(v *viper.Viper) (*ControllerConfig, error) {
	c := &ControllerConfig{
		IdleWaitMinutes: v.GetFloat64("idle-wait-minutes"),
		MemThresholdGb:  v.GetFloat64("mem-threshold-gb"),
		HoldMemGb:       v.GetFloat64("hold-mem-gb"),
		HoldUtil:        v.GetFloat64("hold-util"),
		Algorithm: AlgorithmConfig{
			OperatorSizeGb:     v.GetFloat64("operator-size-gb"),
			UtilizationEpsilon: v.GetFloat64("utilization-epsilon"),
			MaxSleepTime:       v.GetFloat64("max-sleep-time"),
			MinSleepTime:       v.GetFloat64("min-sleep-time"),
			InspectInterval:    v.GetFloat64("inspect-interval"),
			SamplesPerCheck:    v.GetInt("samples-per-check"),
		},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func LaunchFromViper(v *viper.Viper) *LaunchConfig {
	c := &LaunchConfig{
		LogPath:     v.GetString("log-path"),
		MetricsAddr: v.GetString("metrics-addr"),
		Simulate:    v.GetBool("simulate"),
	}
	if c.LogPath == "" {
		c.LogPath = DefaultLogPath()
	}
	return c
}
