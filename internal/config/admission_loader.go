package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// AdmissionLimits sizes the request worker pool. Zero fields fall back to
// the defaults from DefaultAdmissionLimits.
type AdmissionLimits struct {
	CoreWorkers    int `yaml:"core_workers"`
	MaxWorkers     int `yaml:"max_workers"`
	QueueCapacity  int `yaml:"queue_capacity"`
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`
}

func DefaultAdmissionLimits() AdmissionLimits {
	core := runtime.NumCPU()
	return AdmissionLimits{
		CoreWorkers:    core,
		MaxWorkers:     core * 2,
		QueueCapacity:  5000,
		IdleTimeoutSec: 60,
	}
}

// LoadAdmissionLimits reads pool sizing from a YAML file. An empty path
// returns the defaults.
func LoadAdmissionLimits(path string) (AdmissionLimits, error) {
	limits := DefaultAdmissionLimits()
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AdmissionLimits{}, fmt.Errorf("read admission limits: %w", err)
	}

	var override AdmissionLimits
	if err := yaml.Unmarshal(data, &override); err != nil {
		return AdmissionLimits{}, fmt.Errorf("parse admission limits: %w", err)
	}

	limits.merge(override)
	if limits.MaxWorkers < limits.CoreWorkers {
		return AdmissionLimits{}, fmt.Errorf("admission limits: max_workers %d below core_workers %d",
			limits.MaxWorkers, limits.CoreWorkers)
	}
	return limits, nil
}

func (al *AdmissionLimits) merge(o AdmissionLimits) {
	if o.CoreWorkers > 0 {
		al.CoreWorkers = o.CoreWorkers
		if o.MaxWorkers == 0 && al.MaxWorkers < al.CoreWorkers {
			al.MaxWorkers = al.CoreWorkers * 2
		}
	}
	if o.MaxWorkers > 0 {
		al.MaxWorkers = o.MaxWorkers
	}
	if o.QueueCapacity > 0 {
		al.QueueCapacity = o.QueueCapacity
	}
	if o.IdleTimeoutSec > 0 {
		al.IdleTimeoutSec = o.IdleTimeoutSec
	}
}

func (al AdmissionLimits) IdleTimeout() time.Duration {
	return time.Duration(al.IdleTimeoutSec) * time.Second
}
