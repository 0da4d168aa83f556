// Package sim drives a round-robin port scheduler with simulated modem ports
// and records the grants it issues.
package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes the sources sharing one command channel.
type Scenario struct {
	Name             string        `yaml:"name"`
	InterSwitchDelay time.Duration `yaml:"inter_switch_delay"`
	Sources          []SourceSpec  `yaml:"sources"`
}

// SourceSpec describes one simulated port.
type SourceSpec struct {
	Label       string        `yaml:"label"`
	Commands    int           `yaml:"commands"`
	ServiceTime time.Duration `yaml:"service_time"`
	StartAfter  time.Duration `yaml:"start_after"`

	// CloseAfter closes the port once this many commands have finished.
	// Zero keeps it open until the run ends.
	CloseAfter int `yaml:"close_after"`

	// FailEvery makes every Nth command fail at the modem.
	FailEvery int `yaml:"fail_every"`

	// Rogue sources queue nothing and report completions they were never
	// granted.
	Rogue bool `yaml:"rogue"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario for settings the simulator cannot run.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario: name is required")
	}
	if sc.InterSwitchDelay < 0 {
		return fmt.Errorf("scenario %s: inter_switch_delay must not be negative", sc.Name)
	}
	if len(sc.Sources) == 0 {
		return fmt.Errorf("scenario %s: at least one source is required", sc.Name)
	}

	seen := make(map[string]bool, len(sc.Sources))
	for i, src := range sc.Sources {
		where := fmt.Sprintf("scenario %s: source %d", sc.Name, i)
		if src.Label == "" {
			return fmt.Errorf("%s: label is required", where)
		}
		if seen[src.Label] {
			return fmt.Errorf("%s: duplicate label %q", where, src.Label)
		}
		seen[src.Label] = true

		switch {
		case src.Commands < 0:
			return fmt.Errorf("%s (%s): commands must not be negative", where, src.Label)
		case src.Rogue && src.Commands > 0:
			return fmt.Errorf("%s (%s): rogue sources cannot queue commands", where, src.Label)
		case src.ServiceTime < 0, src.StartAfter < 0:
			return fmt.Errorf("%s (%s): durations must not be negative", where, src.Label)
		case src.CloseAfter < 0 || src.CloseAfter > src.Commands:
			return fmt.Errorf("%s (%s): close_after must be between 0 and commands", where, src.Label)
		case src.FailEvery < 0:
			return fmt.Errorf("%s (%s): fail_every must not be negative", where, src.Label)
		}
	}
	return nil
}

// TotalCommands sums the commands queued by all sources.
func (sc *Scenario) TotalCommands() int {
	n := 0
	for _, src := range sc.Sources {
		n += src.Commands
	}
	return n
}
