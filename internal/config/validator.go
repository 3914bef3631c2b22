package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/azargarov/conductor"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // config key, e.g. "conductor.queue_capacity"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateConductor()...)
	errs = append(errs, c.validateWorker()...)
	errs = append(errs, c.validateClient()...)
	errs = append(errs, c.validateDial()...)
	errs = append(errs, c.validateSimulate()...)
	return errs
}

func (c *Config) validateServer() []ValidationError {
	var errs []ValidationError
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{"server.addr", c.Server.Addr, "must be host:port"})
	}
	if c.Server.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.AdminAddr); err != nil {
			errs = append(errs, ValidationError{"server.admin_addr", c.Server.AdminAddr, "must be host:port or empty"})
		}
	}
	return errs
}

func (c *Config) validateConductor() []ValidationError {
	var errs []ValidationError
	positive := []struct {
		field string
		value int
	}{
		{"conductor.queue_capacity", c.Conductor.QueueCapacity},
		{"conductor.pool_capacity", c.Conductor.PoolCapacity},
		{"conductor.crossover_factor", c.Conductor.CrossoverFactor},
		{"conductor.sink_buffer", c.Conductor.SinkBuffer},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{p.field, p.value, "must be positive"})
		}
	}
	return errs
}

func (c *Config) validateWorker() []ValidationError {
	var errs []ValidationError
	if _, err := conductor.ParseKind(c.Worker.Kind); err != nil {
		errs = append(errs, ValidationError{"worker.kind", c.Worker.Kind, "must be A or B"})
	}
	if c.Worker.MatchCost < 0 {
		errs = append(errs, ValidationError{"worker.match_cost", c.Worker.MatchCost, "must not be negative"})
	}
	if c.Worker.MismatchCost < c.Worker.MatchCost {
		errs = append(errs, ValidationError{"worker.mismatch_cost", c.Worker.MismatchCost, "must not be below match_cost"})
	}
	return errs
}

func (c *Config) validateClient() []ValidationError {
	if c.Client.Tasks < 0 {
		return []ValidationError{{"client.tasks", c.Client.Tasks, "must not be negative"}}
	}
	return nil
}

func (c *Config) validateDial() []ValidationError {
	var errs []ValidationError
	if c.Dial.Initial <= 0 {
		errs = append(errs, ValidationError{"dial.initial", c.Dial.Initial, "must be positive"})
	}
	if c.Dial.Max < c.Dial.Initial {
		errs = append(errs, ValidationError{"dial.max", c.Dial.Max, "must not be below dial.initial"})
	}
	if c.Dial.Attempts <= 0 {
		errs = append(errs, ValidationError{"dial.attempts", c.Dial.Attempts, "must be positive"})
	}
	return errs
}

func (c *Config) validateSimulate() []ValidationError {
	var errs []ValidationError
	if c.Simulate.WorkersA < 0 || c.Simulate.WorkersB < 0 {
		errs = append(errs, ValidationError{"simulate.workers", [2]int{c.Simulate.WorkersA, c.Simulate.WorkersB}, "must not be negative"})
	}
	if c.Simulate.WorkersA+c.Simulate.WorkersB == 0 && c.Simulate.Clients > 0 {
		errs = append(errs, ValidationError{"simulate.workers", 0, "clients need at least one worker"})
	}
	if c.Simulate.Clients < 0 {
		errs = append(errs, ValidationError{"simulate.clients", c.Simulate.Clients, "must not be negative"})
	}
	return errs
}
