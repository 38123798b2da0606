package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/patchgate/pkg/logging"
)

// GateOverride replaces parts of a built-in gate.
type GateOverride struct {
	Command  []string `yaml:"command,omitempty" json:"command,omitempty"`
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Config holds preflight settings.
type Config struct {
	Profile       string                  `yaml:"profile" json:"profile"`
	Timeout       time.Duration           `yaml:"timeout" json:"timeout"`
	Gates         map[string]GateOverride `yaml:"gates,omitempty" json:"gates,omitempty"`
	CriticalGates []string                `yaml:"critical_gates,omitempty" json:"critical_gates,omitempty"`
}

// DefaultConfig returns the auto profile with a five minute timeout.
func DefaultConfig() Config {
	return Config{
		Profile: string(ProfileAuto),
		Timeout: 5 * time.Minute,
	}
}

// Validate checks profile, gate and critical gate names.
func (c Config) Validate() error {
	switch Profile(c.Profile) {
	case "", ProfileAuto, ProfileNode, ProfileGo:
	default:
		return fmt.Errorf("unknown preflight profile: %s", c.Profile)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("preflight timeout cannot be negative")
	}
	for name, o := range c.Gates {
		if _, err := ParseCheck(name); err != nil {
			return err
		}
		if o.Command != nil && len(o.Command) == 0 {
			return fmt.Errorf("gate %s: command cannot be empty", name)
		}
	}
	_, err := c.Critical()
	return err
}

// Critical returns the configured critical gates, or DefaultCritical.
func (c Config) Critical() ([]Check, error) {
	if len(c.CriticalGates) == 0 {
		return append([]Check(nil), DefaultCritical...), nil
	}
	out := make([]Check, 0, len(c.CriticalGates))
	for _, name := range c.CriticalGates {
		check, err := ParseCheck(name)
		if err != nil {
			return nil, err
		}
		out = append(out, check)
	}
	return out, nil
}

// Runner executes gates sequentially.
type Runner struct {
	config Config
	logger *logging.Logger
}

// NewRunner validates config and returns a runner.
func NewRunner(config Config, logger *logging.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{config: config, logger: logger}, nil
}

// Critical returns the gates that block an apply.
func (r *Runner) Critical() []Check {
	critical, _ := r.config.Critical()
	return critical
}

// Gates resolves the profile for dir and applies configured overrides.
func (r *Runner) Gates(dir string) ([]Gate, error) {
	gates, err := Profile(r.config.Profile).Resolve(dir).Gates()
	if err != nil {
		return nil, err
	}
	for i := range gates {
		o, ok := r.config.Gates[string(gates[i].Check)]
		if !ok {
			continue
		}
		if o.Command != nil {
			gates[i].Command = o.Command
			// a custom command runs unconditionally unless requires is also set
			gates[i].Detect = nil
			gates[i].Requires = nil
		}
		if o.Requires != nil {
			gates[i].Detect = nil
			gates[i].Requires = o.Requires
		}
		gates[i].Disabled = o.Disabled
	}
	return gates, nil
}

// Run executes every gate in order against dir. It never short-circuits:
// the returned checklist always has an entry and a log for every check.
func (r *Runner) Run(ctx context.Context, dir string) *Checklist {
	checklist := newChecklist()

	gates, err := r.Gates(dir)
	if err != nil {
		for _, check := range Checks {
			checklist.set(check, StatusFail, err.Error())
		}
		return checklist
	}

	for _, gate := range gates {
		start := time.Now()
		status, log := r.runGate(ctx, gate, dir)
		checklist.set(gate.Check, status, log)
		r.logger.Infof("preflight %s: %s (%s)", gate.Check, status, time.Since(start).Round(time.Millisecond))
	}
	return checklist
}

func (r *Runner) runGate(ctx context.Context, gate Gate, dir string) (Status, string) {
	if gate.Disabled {
		return StatusSkipped, "disabled by configuration"
	}
	if ok, reason := gate.ready(dir); !ok {
		missing := gate.Missing
		if missing == "" {
			missing = StatusSkipped
		}
		return missing, reason
	}

	r.logger.Debugf("preflight %s: running %v in %s", gate.Check, gate.Command, dir)
	output, err := gate.execute(ctx, dir, r.config.Timeout)
	if err != nil {
		r.logger.Warnf("%v", err)
		return StatusFail, output
	}
	return StatusPass, output
}
