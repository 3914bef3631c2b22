package conductor

// Options configure a Conductor.
//
// All zero values are replaced with defaults in FillDefaults.
type Options struct {
	// QueueCapacity bounds both the inbound and the completion queue.
	QueueCapacity int

	// PoolCapacity bounds how many workers of one kind may register.
	PoolCapacity int

	// CrossoverFactor is the backlog multiplier of the crossover
	// heuristic. It can be changed later with SetCrossoverFactor.
	CrossoverFactor int

	// Metrics receives scheduling counters. Defaults to NoopMetrics.
	Metrics MetricsPolicy
}

func (o *Options) FillDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.PoolCapacity <= 0 {
		o.PoolCapacity = DefaultPoolCapacity
	}
	if o.CrossoverFactor <= 0 {
		o.CrossoverFactor = DefaultCrossoverFactor
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
}
