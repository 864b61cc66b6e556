package qdisc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKey       = errors.New("unknown configuration key")
	ErrUnknownKind      = errors.New("unknown queueing discipline kind")
	ErrNothingToCommit  = errors.New("no queueing discipline configured")
	ErrConfigClosed     = errors.New("configuration already committed or discarded")
	ErrOutOfRange       = errors.New("value out of range")
	ErrInvalidSize      = errors.New("invalid size")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrUnsupportedUnits = errors.New("unsupported unit base")
)

// Rejection reasons reported by TokenBucketFilter.Validate.
var (
	ErrLimitLatencyExclusive  = errors.New("LimitSize= and LatencySec= are mutually exclusive")
	ErrLimitOrLatencyRequired = errors.New("either LimitSize= or LatencySec= is required")
	ErrRateRequired           = errors.New("Rate= is mandatory")
	ErrBurstRequired          = errors.New("Burst= is mandatory")
	ErrMTURequired            = errors.New("MTUBytes= is mandatory when PeakRate= is specified")
)

// ParseError reports a malformed value for a single key. The assignment is
// ignored and the field keeps its previous value.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConflictError reports that an attach point is already owned by a
// different discipline kind.
type ConflictError struct {
	AttachPoint AttachPoint
	Existing    string
	Requested   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: more than one kind of queueing discipline (have %s, got %s)",
		e.AttachPoint, e.Existing, e.Requested)
}

// RejectionError carries every validation failure of one discipline.
type RejectionError struct {
	Kind    string
	Reasons []error
}

func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		msgs = append(msgs, r.Error())
	}
	return fmt.Sprintf("%s: invalid configuration: %s", e.Kind, strings.Join(msgs, "; "))
}

func (e *RejectionError) Unwrap() []error { return e.Reasons }

// EncodeError wraps a failure while deriving or serializing kernel options.
type EncodeError struct {
	Op  string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
