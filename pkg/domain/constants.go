package domain

// Stage is a position in the per-operation state machine.
type Stage string

const (
	StageModel      Stage = "MODEL"       // Structural validation and Working Copy mutation
	StageRuntime    Stage = "RUNTIME"     // Side effects on the live process
	StageVerify     Stage = "VERIFY"      // Post-condition checks
	StagePrepared   Stage = "PREPARED"    // All stages passed, Working Copy held open
	StageCompleted  Stage = "COMPLETED"   // Working Copy merged
	StageRolledBack Stage = "ROLLED_BACK" // Working Copy discarded, compensation done
)

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageRolledBack
}

// Verdict is the fleet-wide decision for one operation.
type Verdict string

const (
	VerdictCommit   Verdict = "commit"
	VerdictRollback Verdict = "rollback"
)
