// Package fault defines the typed error values surfaced by the batching
// pipeline, ordered by severity as described in the package's design
// notes: configuration errors, I/O faults, framing faults, bad batches,
// schema mismatches, and cancellation.
package fault

import (
	"strconv"

	"github.com/pkg/errors"
)

// Configuration reports an invalid option detected synchronously at
// construction, before the pipeline ever reaches the running state.
type Configuration struct {
	Option  string
	Message string
}

func (e *Configuration) Error() string {
	return "batchreader: invalid configuration option " + e.Option + ": " + e.Message
}

// NewConfiguration builds a Configuration fault.
func NewConfiguration(option, message string) *Configuration {
	return &Configuration{Option: option, Message: message}
}

// IO reports a failed or truncated read from a data store. It is always
// fatal; the controller moves to the poisoned state.
type IO struct {
	StoreID string
	Offset  int64
	Cause   error
}

func (e *IO) Error() string {
	return errors.Wrapf(e.Cause, "batchreader: I/O fault on store %q at offset %d", e.StoreID, e.Offset).Error()
}

// Unwrap lets callers recover the underlying cause with errors.As/Is.
func (e *IO) Unwrap() error { return e.Cause }

// NewIO builds an IO fault.
func NewIO(storeID string, offset int64, cause error) *IO {
	return &IO{StoreID: storeID, Offset: offset, Cause: cause}
}

// Framing reports a malformed record header detected by the segmenter. It
// is treated exactly like IO: always fatal.
type Framing struct {
	StoreID string
	Offset  int64
	Message string
}

func (e *Framing) Error() string {
	return "batchreader: framing fault on store " + e.StoreID + ": " + e.Message
}

// NewFraming builds a Framing fault.
func NewFraming(storeID string, offset int64, message string) *Framing {
	return &Framing{StoreID: storeID, Offset: offset, Message: message}
}

// BadBatch reports that a decode worker's Decode call returned an error for
// the given batch. Treatment (error/skip/warn) is decided by the caller's
// bad_batch_handling policy; this type only carries the fact.
type BadBatch struct {
	BatchIndex uint64
	Cause      error
}

func (e *BadBatch) Error() string {
	return errors.Wrapf(e.Cause, "batchreader: bad batch %d", e.BatchIndex).Error()
}

func (e *BadBatch) Unwrap() error { return e.Cause }

// NewBadBatch builds a BadBatch fault.
func NewBadBatch(batchIndex uint64, cause error) *BadBatch {
	return &BadBatch{BatchIndex: batchIndex, Cause: cause}
}

// SchemaMismatch reports that a decoded example's tensor shapes disagree
// with the schema cached from the first non-empty instance. Always fatal.
type SchemaMismatch struct {
	BatchIndex uint64
	Message    string
}

func (e *SchemaMismatch) Error() string {
	return "batchreader: schema mismatch at batch " + strconv.FormatUint(e.BatchIndex, 10) + ": " + e.Message
}

// NewSchemaMismatch builds a SchemaMismatch fault.
func NewSchemaMismatch(batchIndex uint64, message string) *SchemaMismatch {
	return &SchemaMismatch{BatchIndex: batchIndex, Message: message}
}

// Reset is delivered to a pending Next/Peek call when Reset or destruction
// runs concurrently with it. It is not reported to any other caller.
type Reset struct{}

func (e *Reset) Error() string { return "batchreader: reset in progress" }

// ErrReset is the singleton Reset fault; pending calls compare against it
// with errors.Is.
var ErrReset = &Reset{}
