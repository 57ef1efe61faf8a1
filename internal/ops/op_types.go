package ops

import "github.com/coralrepo/coral/internal/ids"

// op is the concrete itemstate.Operation every batched mutation records.
// AffectedStates drives both the save algorithm's operation-inclusion scan
// (spec §4.4 step 4) and revert's operation-disposal scan (spec §4.3
// revert).
type op struct {
	kind     string
	affected []ids.ItemId
}

func (o *op) Kind() string             { return o.kind }
func (o *op) AffectedStates() []ids.ItemId { return o.affected }

func newOp(kind string, affected ...ids.ItemId) *op {
	return &op{kind: kind, affected: affected}
}
