// Package config loads conductor settings from defaults, an optional
// YAML file and CONDUCTOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/azargarov/conductor"
)

// EnvPrefix is prepended to every environment override,
// e.g. CONDUCTOR_CONDUCTOR_CROSSOVER_FACTOR.
const EnvPrefix = "CONDUCTOR"

// Config is the full set of conductor settings.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Conductor ConductorConfig `mapstructure:"conductor" yaml:"conductor"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Dial      DialConfig      `mapstructure:"dial" yaml:"dial"`
	Simulate  SimulateConfig  `mapstructure:"simulate" yaml:"simulate"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	// Addr is the TCP address clients and workers connect to.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// AdminAddr serves /healthz, /stats and /metrics. Empty disables it.
	AdminAddr string `mapstructure:"admin_addr" yaml:"admin_addr"`
}

// ConductorConfig sizes the scheduling core.
type ConductorConfig struct {
	QueueCapacity   int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	PoolCapacity    int `mapstructure:"pool_capacity" yaml:"pool_capacity"`
	CrossoverFactor int `mapstructure:"crossover_factor" yaml:"crossover_factor"`
	// SinkBuffer is the per-connection outbound buffer.
	SinkBuffer int `mapstructure:"sink_buffer" yaml:"sink_buffer"`
}

// WorkerConfig drives the simulated worker.
type WorkerConfig struct {
	Kind         string        `mapstructure:"kind" yaml:"kind"`
	MatchCost    time.Duration `mapstructure:"match_cost" yaml:"match_cost"`
	MismatchCost time.Duration `mapstructure:"mismatch_cost" yaml:"mismatch_cost"`
}

// ClientConfig drives the simulated client.
type ClientConfig struct {
	Tasks int `mapstructure:"tasks" yaml:"tasks"`
	// Seed of the task generator; 0 picks a time-based seed.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// DialConfig is the reconnect policy of simulated clients and workers.
type DialConfig struct {
	Initial  time.Duration `mapstructure:"initial" yaml:"initial"`
	Max      time.Duration `mapstructure:"max" yaml:"max"`
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
}

// SimulateConfig sizes the in-process scenario.
type SimulateConfig struct {
	WorkersA int `mapstructure:"workers_a" yaml:"workers_a"`
	WorkersB int `mapstructure:"workers_b" yaml:"workers_b"`
	Clients  int `mapstructure:"clients" yaml:"clients"`
}

// Default returns a Config with the stock values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":30121",
			AdminAddr: ":9090",
		},
		Conductor: ConductorConfig{
			QueueCapacity:   conductor.DefaultQueueCapacity,
			PoolCapacity:    conductor.DefaultPoolCapacity,
			CrossoverFactor: conductor.DefaultCrossoverFactor,
			SinkBuffer:      100,
		},
		Worker: WorkerConfig{
			Kind:         "A",
			MatchCost:    2 * time.Second,
			MismatchCost: 10 * time.Second,
		},
		Client: ClientConfig{
			Tasks: 10,
		},
		Dial: DialConfig{
			Initial:  200 * time.Millisecond,
			Max:      5 * time.Second,
			Attempts: 10,
		},
		Simulate: SimulateConfig{
			WorkersA: 1,
			WorkersB: 1,
			Clients:  2,
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.admin_addr", d.Server.AdminAddr)

	v.SetDefault("conductor.queue_capacity", d.Conductor.QueueCapacity)
	v.SetDefault("conductor.pool_capacity", d.Conductor.PoolCapacity)
	v.SetDefault("conductor.crossover_factor", d.Conductor.CrossoverFactor)
	v.SetDefault("conductor.sink_buffer", d.Conductor.SinkBuffer)

	v.SetDefault("worker.kind", d.Worker.Kind)
	v.SetDefault("worker.match_cost", d.Worker.MatchCost)
	v.SetDefault("worker.mismatch_cost", d.Worker.MismatchCost)

	v.SetDefault("client.tasks", d.Client.Tasks)
	v.SetDefault("client.seed", d.Client.Seed)

	v.SetDefault("dial.initial", d.Dial.Initial)
	v.SetDefault("dial.max", d.Dial.Max)
	v.SetDefault("dial.attempts", d.Dial.Attempts)

	v.SetDefault("simulate.workers_a", d.Simulate.WorkersA)
	v.SetDefault("simulate.workers_b", d.Simulate.WorkersB)
	v.SetDefault("simulate.clients", d.Simulate.Clients)
}

// New returns a viper instance with defaults and environment overrides
// installed. If path is not empty the file is read as well and must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return v, nil
}

// Load reads the configuration from v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Options converts the core section into conductor options.
func (c *Config) Options() conductor.Options {
	return conductor.Options{
		QueueCapacity:   c.Conductor.QueueCapacity,
		PoolCapacity:    c.Conductor.PoolCapacity,
		CrossoverFactor: c.Conductor.CrossoverFactor,
	}
}

// WorkerKind returns the parsed worker kind. Validate guarantees it parses.
func (c *Config) WorkerKind() conductor.Kind {
	k, _ := conductor.ParseKind(c.Worker.Kind)
	return k
}
