package worker

import (
	"time"
)

type Options struct {
	// ExecutorID identifies this worker in the leases it takes. Defaults to a random id.
	ExecutorID string

	// Pollers is the number of goroutines looking for instances to execute. Defaults to 2.
	Pollers int

	// MaxParallelWorkflows determines the maximum number of workflow instances executed concurrently
	// by the worker. The default is 0 which is no limit.
	MaxParallelWorkflows int

	// HeartbeatInterval is the interval between lease renewals of running instances. Defaults to 5
	// seconds.
	HeartbeatInterval time.Duration

	// LeaseTimeout is how long an instance can go without heartbeat before another worker may recover
	// it. Must be larger than HeartbeatInterval. Defaults to 30 seconds.
	LeaseTimeout time.Duration

	// RecoveryInterval is the interval between scans for pending and abandoned instances. New instances
	// created through the same backend are picked up right away. Defaults to 1 second.
	RecoveryInterval time.Duration
}

var DefaultOptions = Options{
	Pollers:              2,
	MaxParallelWorkflows: 0,
	HeartbeatInterval:    5 * time.Second,
	LeaseTimeout:         30 * time.Second,
	RecoveryInterval:     time.Second,
}
