// Package ops implements the batched item operations of spec §4.5: add
// node, add/set property, remove, move, and copy/clone, each gated by a
// bitset of precondition checks and each appending a pending operation to
// the session's transient state manager.
package ops

// Option is one bit of the precondition checklist spec §4.5 attaches to
// every operation.
type Option uint8

const (
	CheckAccess Option = 1 << iota
	CheckLock
	CheckVersioning
	CheckConstraints
	CheckReferences
	CheckCollision
)

// All enables every precondition check; the usual default for interactive
// session use.
const All = CheckAccess | CheckLock | CheckVersioning | CheckConstraints | CheckReferences | CheckCollision

func (o Option) Has(bit Option) bool { return o&bit != 0 }
