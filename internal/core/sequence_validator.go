package core

import (
	"fmt"

	"PredictLedger/internal/observability"
)

// SequenceValidator checks upstream source sequences per partition. A
// partition is a JetStream stream or an HTTP ingress; sequence 0 means the
// source does not number its commands and is never validated.
//
// JetStream sequences skip numbers when messages are filtered or purged, so a
// gap is counted but accepted. A sequence at or below the last one seen is a
// redelivery: accepted when the command is a known duplicate, rejected
// otherwise.
// Not thread-safe: only accessed from the single-threaded processor.
type SequenceValidator struct {
	lastSeq map[string]int64 // partition -> highest sequence applied
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		metrics: metrics,
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if partition == "" || sourceSequence == 0 {
		return nil
	}

	last, seen := sv.lastSeq[partition]
	if seen && sourceSequence <= last {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.CommandOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order command: partition=%s, last=%d, got=%d",
			partition, last, sourceSequence)
	}

	if seen && sourceSequence > last+1 && sv.metrics != nil {
		sv.metrics.CommandSequenceGap.WithLabelValues(partition).Inc()
	}
	return nil
}

// Advance records sourceSequence as applied for partition.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if partition == "" || sourceSequence == 0 {
		return
	}
	if sourceSequence > sv.lastSeq[partition] {
		sv.lastSeq[partition] = sourceSequence
	}
}

// LastSequence returns the highest sequence applied for a partition
func (sv *SequenceValidator) LastSequence(partition string) int64 {
	return sv.lastSeq[partition]
}

// Partitions returns a copy of every partition's position (for snapshots).
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastSeq))
	for k, v := range sv.lastSeq {
		out[k] = v
	}
	return out
}

// RestorePartition sets a partition's position during recovery.
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.lastSeq[partition] = seq
}
