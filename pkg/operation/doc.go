// Package operation implements the Operation Context: the per-operation state machine that
// decomposes a request into Steps, drives them through the MODEL, RUNTIME and VERIFY stages
// against a private Working Copy, and compensates them in reverse order when anything fails.
//
// A Context ends in exactly one of PREPARED, COMPLETED or ROLLED_BACK. PREPARED holds the
// Working Copy open until the owner decides with Complete or Rollback.
package operation
