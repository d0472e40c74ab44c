package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrInvalidBalance is returned when a pool balance is zero or negative.
	ErrInvalidBalance = errors.New("invalid balance")

	// ErrInvalidSpotPrice is returned when a ladder is built around a non-positive price.
	ErrInvalidSpotPrice = errors.New("invalid spot price")

	// ErrInvalidLadder is returned for ladder parameters that cannot produce positive prices.
	ErrInvalidLadder = errors.New("invalid ladder parameters")

	// ErrLedgerRequestFailed is the root of every ledger client failure. Usually transient.
	ErrLedgerRequestFailed = errors.New("ledger request failed")

	// ErrOrderPlacementFailed is returned when the ledger rejects or loses an order.
	ErrOrderPlacementFailed = errors.New("order placement failed")

	// ErrSpawn is returned when a worker unit cannot be started.
	ErrSpawn = errors.New("spawn failed")

	// ErrStartupFailure is returned when the unit start sequence does not complete.
	ErrStartupFailure = errors.New("startup failure")

	// ErrRestartInProgress is returned when a restart trigger arrives while another cycle runs.
	ErrRestartInProgress = errors.New("restart already in progress")
)

// NetworkError represents a ledger transport failure that may be retriable
type NetworkError struct {
	Op        string // RPC method that failed (e.g., "getLatestLedger")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is makes every NetworkError match ErrLedgerRequestFailed.
func (e *NetworkError) Is(target error) bool {
	return target == ErrLedgerRequestFailed
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PlacementError reports a failed order submission for one ladder level.
type PlacementError struct {
	LevelKey string
	Err      error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place %s: %v", e.LevelKey, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

func (e *PlacementError) Is(target error) bool {
	return target == ErrOrderPlacementFailed
}

// SpawnError reports a worker unit whose command could not start.
type SpawnError struct {
	Unit string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Unit, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// StartupError reports a failed start sequence. Initial is true for the very first
// startup of the supervisor, where the failure is fatal to the process.
type StartupError struct {
	Unit    string
	Initial bool
	Err     error
}

func (e *StartupError) Error() string {
	phase := "restart"
	if e.Initial {
		phase = "initial startup"
	}
	return fmt.Sprintf("%s failed at unit %s: %v", phase, e.Unit, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func (e *StartupError) Is(target error) bool {
	return target == ErrStartupFailure
}
