// Package pipeline drives an install through its fixed sequence of stages
// and classifies the failure that aborts it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/fetch"
	"github.com/cochaviz/uli/internal/image"
	"github.com/cochaviz/uli/internal/inventory"
	"github.com/cochaviz/uli/internal/models"
)

// State is a position in the install sequence.
type State int

const (
	NotStarted State = iota
	FetchingConfig
	ParsingConfig
	InteractiveSelection
	VerifyingDisks
	Partitioning
	BuildingRaid
	BuildingLvm
	BuildingFilesystems
	InstallingImage
	MountingPseudoFs
	Configuring
	InstallingBootloader
	Done
	Aborted
)

var stateNames = map[State]string{
	NotStarted:           "not-started",
	FetchingConfig:       "fetching-config",
	ParsingConfig:        "parsing-config",
	InteractiveSelection: "interactive-selection",
	VerifyingDisks:       "verifying-disks",
	Partitioning:         "partitioning",
	BuildingRaid:         "building-raid",
	BuildingLvm:          "building-lvm",
	BuildingFilesystems:  "building-filesystems",
	InstallingImage:      "installing-image",
	MountingPseudoFs:     "mounting-pseudo-fs",
	Configuring:          "configuring",
	InstallingBootloader: "installing-bootloader",
	Done:                 "done",
	Aborted:              "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no stage follows s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted
}

// Destructive reports whether s writes to the disks.
func (s State) Destructive() bool {
	return s >= Partitioning && s <= InstallingBootloader
}

// Outcome is how a stage ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeWarning Outcome = "warning"
	OutcomeSkipped Outcome = "skipped"
)

// Result is what a stage returns to the runner.
type Result struct {
	Outcome Outcome
	Detail  string
	Err     error
}

func OK(detail string) Result {
	return Result{Outcome: OutcomeOK, Detail: detail}
}

func Skipped(detail string) Result {
	return Result{Outcome: OutcomeSkipped, Detail: detail}
}

func Warning(detail string) Result {
	return Result{Outcome: OutcomeWarning, Detail: detail}
}

func Failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

// FailureKind groups abort causes for reporting and exit handling.
type FailureKind string

const (
	FailureConfigFetch      FailureKind = "config-fetch"
	FailureConfigParse      FailureKind = "config-parse"
	FailureConfigValidation FailureKind = "config-validation"
	FailureDiskNotFound     FailureKind = "disk-not-found"
	FailureDeviceOperation  FailureKind = "device-operation"
	FailureImageInstall     FailureKind = "image-install"
	FailureInterrupted      FailureKind = "interrupted"
	FailureIO               FailureKind = "io"
)

// Classify maps an error onto its failure kind.
func Classify(err error) FailureKind {
	var (
		fetchErr      *fetch.ConfigFetchError
		parseErr      *models.ConfigParseError
		validationErr *models.ConfigValidationError
		diskErr       *inventory.DiskNotFoundError
		imageErr      *image.ImageInstallError
		commandErr    *execute.CommandError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return FailureInterrupted
	case errors.As(err, &fetchErr):
		return FailureConfigFetch
	case errors.As(err, &parseErr):
		return FailureConfigParse
	case errors.As(err, &validationErr):
		return FailureConfigValidation
	case errors.As(err, &diskErr):
		return FailureDiskNotFound
	case errors.As(err, &imageErr):
		return FailureImageInstall
	case errors.As(err, &commandErr):
		return FailureDeviceOperation
	default:
		return FailureIO
	}
}

// AbortError is returned when a stage fails.
type AbortError struct {
	State State
	Stage string
	Kind  FailureKind
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}
