package batch

import (
	"io"

	"github.com/grailbio/batchreader/instream"
)

// LastBatchPolicy selects how the final, possibly-short run of instances
// is handled.
type LastBatchPolicy int

const (
	// LastBatchNone emits a short final batch, marked final.
	LastBatchNone LastBatchPolicy = iota
	// LastBatchDrop discards the short tail; no final short batch is emitted.
	LastBatchDrop
	// LastBatchPad synthesises zero instances after the real ones to reach
	// the configured batch size, and records the count in PaddingCount.
	LastBatchPad
)

// Source is the instance sequence C4 consumes.
type Source interface {
	Next() (instream.Instance, error)
}

// Former is the C4 pipeline stage: it groups instances from src into
// contiguous runs of size, tagging each with a monotonically increasing
// batch index.
type Former struct {
	src    Source
	size   int
	policy LastBatchPolicy

	index uint64
	eof   bool
	done  bool

	// ahead holds one instance read past a full batch, so that batch can
	// be marked final when the source ends right after it.
	ahead    instream.Instance
	hasAhead bool
}

// NewFormer returns a Former grouping src's instances into batches of
// size, per policy.
func NewFormer(src Source, size int, policy LastBatchPolicy) *Former {
	return &Former{src: src, size: size, policy: policy}
}

// Next returns the next batch Descriptor, or io.EOF once the source is
// exhausted and any final short batch has already been emitted or
// dropped.
func (f *Former) Next() (Descriptor, error) {
	if f.done {
		return Descriptor{}, io.EOF
	}

	instances := make([]instream.Instance, 0, f.size)
	if f.hasAhead {
		instances = append(instances, f.ahead)
		f.ahead, f.hasAhead = instream.Instance{}, false
	}
	for len(instances) < f.size && !f.eof {
		inst, err := f.src.Next()
		if err == io.EOF {
			f.eof = true
			break
		}
		if err != nil {
			return Descriptor{}, err
		}
		instances = append(instances, inst)
	}

	if len(instances) == f.size {
		if !f.eof {
			inst, err := f.src.Next()
			if err == io.EOF {
				f.eof = true
			} else if err != nil {
				return Descriptor{}, err
			} else {
				f.ahead, f.hasAhead = inst, true
			}
		}
		isFinal := f.eof
		f.done = isFinal
		d := Descriptor{BatchIndex: f.index, Instances: instances, IsFinal: isFinal}
		f.index++
		return d, nil
	}

	// A partial (possibly empty) tail: the source is exhausted.
	f.done = true
	t := len(instances)
	if t == 0 {
		return Descriptor{}, io.EOF
	}

	switch f.policy {
	case LastBatchDrop:
		for _, inst := range instances {
			inst.Payload.Release()
		}
		return Descriptor{}, io.EOF
	case LastBatchPad:
		pad := f.size - t
		for i := 0; i < pad; i++ {
			instances = append(instances, instream.Instance{})
		}
		d := Descriptor{BatchIndex: f.index, Instances: instances, IsFinal: true, PaddingCount: pad}
		f.index++
		return d, nil
	default: // LastBatchNone
		d := Descriptor{BatchIndex: f.index, Instances: instances, IsFinal: true}
		f.index++
		return d, nil
	}
}
