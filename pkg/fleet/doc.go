// Package fleet implements the Domain Coordinator: it runs an operation on the controller's own
// Local Transaction Coordinator and on every participant whose scope the operation touches, then
// drives all of them to one verdict.
//
// The protocol is a two-phase commit. Every participant prepares (MODEL, RUNTIME and VERIFY)
// and holds its Working Copy open. The verdict is commit only if the controller and every
// required participant prepared; anything else, including a timeout or a lost channel, rolls
// back the whole fleet. A participant that cannot be told the verdict is recorded as
// inconsistent and stays so until Reconciled is called.
package fleet
