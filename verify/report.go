package verify

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the outcome of a single Check.
//
// Statuses are ordered by severity.
type Status int

const (
	// Passed means the operation succeeded and returned the expected data.
	Passed Status = iota
	// Failed means the operation itself returned an error.
	Failed
	// Mismatch means the operation succeeded but returned wrong data. This is more severe than Failed.
	Mismatch
)

func (s Status) String() string {
	switch s {
	case Passed:
		return "PASS"
	case Failed:
		return "FAIL"
	case Mismatch:
		return "MISMATCH"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Check is one checked condition.
type Check struct {
	// Name describes the condition such as `extract "0.txt" (sorted)`.
	Name   string
	Status Status
	// Err is nil if and only if Status is Passed.
	Err error
}

// CheckError is returned by Report.Err.
type CheckError struct {
	Check Check
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Check.Name, e.Check.Status, e.Check.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Check.Err
}

// ErrMismatch is the error of checks that compared data and found a difference.
var ErrMismatch = errors.New("mismatched data")

// Report is the outcome of Run.
type Report struct {
	// Path is the container that was verified.
	Path string
	// Checks are in the order they were made.
	Checks []Check
	// Entries is the number of entries that the container ended up with.
	Entries int
	// Size is the size of the container as read back in its entirety.
	Size int64
	// Fingerprint is the SRI fingerprint of the container as read back in its entirety, such as "sha256-...".
	Fingerprint string
}

// Passed returns true if every check passed.
func (r *Report) Passed() bool {
	return r.Err() == nil
}

// Counts returns the number of checks per Status.
func (r *Report) Counts() (passed, failed, mismatched int) {
	for _, c := range r.Checks {
		switch c.Status {
		case Passed:
			passed++
		case Failed:
			failed++
		case Mismatch:
			mismatched++
		}
	}

	return
}

// Err returns the first check of the highest severity as a *CheckError, or nil if every check passed.
func (r *Report) Err() error {
	var worst *Check
	for i, c := range r.Checks {
		if c.Status != Passed && (worst == nil || c.Status > worst.Status) {
			worst = &r.Checks[i]
		}
	}

	if worst == nil {
		return nil
	}

	return &CheckError{Check: *worst}
}

// String returns a multi-line summary with one line per failed check.
func (r *Report) String() string {
	passed, failed, mismatched := r.Counts()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d passed, %d failed, %d mismatched", r.Path, passed, failed, mismatched)
	for _, c := range r.Checks {
		if c.Status != Passed {
			fmt.Fprintf(&sb, "\n\t%s %s: %v", c.Status, c.Name, c.Err)
		}
	}

	return sb.String()
}

func (r *Report) pass(name string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: Passed})
}

// record adds a Check from err: nil passes; cd.ErrIntegrityMismatch and ErrMismatch are mismatches; anything else
// fails.
func (r *Report) record(name string, err error) bool {
	switch {
	case err == nil:
		r.pass(name)
		return true
	case isMismatch(err):
		r.Checks = append(r.Checks, Check{Name: name, Status: Mismatch, Err: err})
	default:
		r.Checks = append(r.Checks, Check{Name: name, Status: Failed, Err: err})
	}

	return false
}
