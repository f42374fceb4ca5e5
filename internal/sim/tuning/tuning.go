package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"basinflow.ai/internal/protocol"
	"basinflow.ai/internal/sim/runner"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	DtHours        float64 `yaml:"dt_hours"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	TransferRate   float64 `yaml:"transfer_rate"`

	MaxSegments int     `yaml:"max_segments"`
	MaxHours    float64 `yaml:"max_hours"`

	OutboxSize   int  `yaml:"outbox_size"`
	JournalTicks bool `yaml:"journal_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: protocol.Version,
		DtHours:         runner.DefaultDtHours,
		TickIntervalMs:  200,
		TransferRate:    1.5,
		MaxSegments:     4096,
		MaxHours:        10000,
		OutboxSize:      64,
	}
}

// Load reads a tuning file over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.DtHours == 0 {
		t.DtHours = d.DtHours
	}
	if t.TickIntervalMs == 0 {
		t.TickIntervalMs = d.TickIntervalMs
	}
	if t.TransferRate == 0 {
		t.TransferRate = d.TransferRate
	}
	if t.OutboxSize == 0 {
		t.OutboxSize = d.OutboxSize
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q unsupported (server speaks %q)", t.ProtocolVersion, protocol.Version)
	}
	if !(t.DtHours > 0) || math.IsInf(t.DtHours, 0) {
		return errors.New("dt_hours must be > 0")
	}
	if t.TickIntervalMs < 1 {
		return errors.New("tick_interval_ms must be >= 1")
	}
	if !(t.TransferRate > 0) || math.IsInf(t.TransferRate, 0) {
		return errors.New("transfer_rate must be > 0")
	}
	if t.MaxSegments < 0 {
		return errors.New("max_segments must be >= 0")
	}
	if t.MaxHours < 0 || math.IsNaN(t.MaxHours) {
		return errors.New("max_hours must be >= 0")
	}
	if t.OutboxSize < 1 {
		return errors.New("outbox_size must be >= 1")
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t Tuning) RunnerConfig() runner.Config {
	return runner.Config{
		DtHours:      t.DtHours,
		TransferRate: t.TransferRate,
		MaxSegments:  t.MaxSegments,
		MaxHours:     t.MaxHours,
	}
}
