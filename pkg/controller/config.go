package controller

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-txdb/pkg/failmon"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// Config holds every controller tunable. All durations are externally
// configurable; the defaults suit a production cluster.
type Config struct {
	// Worker registry
	WorkerFailureTime           time.Duration `yaml:"worker_failure_time" validate:"gt=0"`
	WorkerCoordinationPingDelay time.Duration `yaml:"worker_coordination_ping_delay" validate:"gt=0"`
	ShutdownTimeout             time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	SimShutdownTimeout          time.Duration `yaml:"sim_shutdown_timeout" validate:"gt=0"`
	// Simulated selects SimShutdownTimeout over ShutdownTimeout
	Simulated bool `yaml:"simulated"`

	// Master watchdog
	MasterSpinDelay                  time.Duration `yaml:"master_spin_delay" validate:"gt=0"`
	MasterFailureReactionTime        time.Duration `yaml:"master_failure_reaction_time" validate:"gt=0"`
	MasterFailureSlopeDuringRecovery float64       `yaml:"master_failure_slope_during_recovery" validate:"gt=0"`
	SecondsBeforeNoFailureDelay      float64       `yaml:"seconds_before_no_failure_delay" validate:"gt=0"`
	CheckBetterMasterInterval        time.Duration `yaml:"check_better_master_interval" validate:"gt=0"`

	// Recruitment
	AttemptRecruitmentDelay     time.Duration   `yaml:"attempt_recruitment_delay" validate:"gt=0"`
	WaitForGoodRecruitmentDelay time.Duration   `yaml:"wait_for_good_recruitment_delay" validate:"gte=0"`
	ExpectedMasterFitness       fitness.Fitness `yaml:"expected_master_fitness"`
	ExpectedTLogFitness         fitness.Fitness `yaml:"expected_tlog_fitness"`
	ExpectedProxyFitness        fitness.Fitness `yaml:"expected_proxy_fitness"`
	ExpectedResolverFitness     fitness.Fitness `yaml:"expected_resolver_fitness"`
	PolicyRatingTests           int             `yaml:"policy_rating_tests" validate:"gt=0"`
	PolicyGenerations           int             `yaml:"policy_generations" validate:"gt=0"`
	RecruitmentTimeout          time.Duration   `yaml:"recruitment_timeout" validate:"gt=0"`

	// Status batching
	StatusMinTimeBetweenRequests time.Duration `yaml:"status_min_time_between_requests" validate:"gte=0"`

	// Incompatible peer tracking
	IncompatiblePeersLoggingInterval time.Duration `yaml:"incompatible_peers_logging_interval" validate:"gt=0"`

	// Long polls expire after this, jittered, so abandoned clients don't
	// pin resources
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout" validate:"gt=0"`

	// Failure detection server
	FailureDetector failmon.Config `yaml:"failure_detector"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		WorkerFailureTime:           time.Second,
		WorkerCoordinationPingDelay: 60 * time.Second,
		ShutdownTimeout:             10 * time.Second,
		SimShutdownTimeout:          2 * time.Second,

		MasterSpinDelay:                  time.Second,
		MasterFailureReactionTime:        400 * time.Millisecond,
		MasterFailureSlopeDuringRecovery: 0.1,
		SecondsBeforeNoFailureDelay:      8 * 3600,
		CheckBetterMasterInterval:        time.Second,

		AttemptRecruitmentDelay:     50 * time.Millisecond,
		WaitForGoodRecruitmentDelay: 5 * time.Second,
		ExpectedMasterFitness:       fitness.UnsetFit,
		ExpectedTLogFitness:         fitness.UnsetFit,
		ExpectedProxyFitness:        fitness.UnsetFit,
		ExpectedResolverFitness:     fitness.UnsetFit,
		PolicyRatingTests:           200,
		PolicyGenerations:           100,
		RecruitmentTimeout:          600 * time.Second,

		StatusMinTimeBetweenRequests: 500 * time.Millisecond,

		IncompatiblePeersLoggingInterval: 600 * time.Second,

		BroadcastTimeout: 300 * time.Second,

		FailureDetector: failmon.DefaultConfig(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("controller config: %w", err)
	}
	if c.FailureDetector.ClientRequestInterval <= 0 {
		return fmt.Errorf("controller config: failure detector request interval must be positive")
	}
	if c.FailureDetector.FailureMaxDelay < c.FailureDetector.FailureMinDelay {
		return fmt.Errorf("controller config: failure max delay must be at least the min delay")
	}
	return nil
}

// shutdownTimeout picks the effective reboot settle time
func (c *Config) shutdownTimeout() time.Duration {
	if c.Simulated {
		return c.SimShutdownTimeout
	}
	return c.ShutdownTimeout
}
