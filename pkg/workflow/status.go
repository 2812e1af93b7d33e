// Package workflow sequences one retirement batch through its named
// stages: build, compress, push, await confirmation, delete. The stages
// are journaled so the partial-failure point of any run is inspectable and
// the run recoverable from its record alone.
package workflow

// Stage is a named, inspectable position in the batch workflow.
type Stage string

const (
	StageBuilding     Stage = "building"
	StageBuilt        Stage = "built"
	StageCompressed   Stage = "compressed"
	StagePushed       Stage = "pushed"
	StageAwaiting     Stage = "awaiting_confirmation"
	StageConfirmed    Stage = "confirmed"
	StageRejected     Stage = "rejected"
	StageTimedOut     Stage = "timed_out"
	StageDeleted      Stage = "deleted"
	StageDeleteFailed Stage = "delete_failed"
	StageDone         Stage = "done"
)

// Status is the composite terminal status of a batch run.
type Status uint8

const (
	// StatusArchived means transfer succeeded, the archive confirmed, and
	// the source delete ran.
	StatusArchived Status = iota
	// StatusArchivedUnconfirmed means transfer succeeded but confirmation
	// was rejected or timed out; the delete still ran. Requires operator
	// follow-up, not a pipeline failure.
	StatusArchivedUnconfirmed
	// StatusEmpty means no eligible records existed; clean no-op.
	StatusEmpty
	// StatusStructuralError means the input stream was malformed; the
	// batch aborted with nothing transferred and nothing deleted.
	StatusStructuralError
	// StatusCompressFailed aborted the batch before transfer; safe to
	// retry later.
	StatusCompressFailed
	// StatusTransferFailed aborted the batch with nothing deleted; safe
	// to retry later.
	StatusTransferFailed
	// StatusDeleteFailed means the archive has the data but the source
	// delete failed; manual reconciliation required.
	StatusDeleteFailed
	// StatusAborted covers cancellation and internal errors outside the
	// taxonomy above.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusArchived:
		return "archived"
	case StatusArchivedUnconfirmed:
		return "archived_unconfirmed"
	case StatusEmpty:
		return "empty"
	case StatusStructuralError:
		return "structural_error"
	case StatusCompressFailed:
		return "compress_failed"
	case StatusTransferFailed:
		return "transfer_failed"
	case StatusDeleteFailed:
		return "delete_failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
