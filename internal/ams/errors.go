package ams

import "fmt"

// ConfigError reports an estimator configuration that fails validation
// before any simulation work is done.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "ams: invalid configuration: " + e.Reason
}

// ContractError reports a collaborator (generator, scorer, or classifier)
// returning a batch that violates its contract. This is a bug in the
// collaborator, not a recoverable condition.
type ContractError struct {
	Collaborator string
	Reason       string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("ams: %s contract violation: %s", e.Collaborator, e.Reason)
}

// DegenerateTrajectoryError reports a trajectory with zero defined time
// steps. The generator produced a path undefined from step 0, which breaks
// the restart-point search.
type DegenerateTrajectoryError struct {
	Index int
}

func (e *DegenerateTrajectoryError) Error() string {
	return fmt.Sprintf("ams: trajectory %d has no defined time steps", e.Index)
}
