package ops

import (
	"time"

	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/values"
)

// systemGeneratedValues computes the value of a well-known protected/auto-
// created property rather than reading it from the definition's declared
// defaults (spec §4.5.6). Properties not named here fall back to the
// definition's declared default values, installed verbatim.
func systemGeneratedValues(n *itemstate.NodeState, pd nodetype.PropertyDef, now time.Time) []values.Value {
	switch {
	case pd.DeclaringType == nodetype.MixReferenceable && pd.Name == nodetype.PropUUID:
		return []values.Value{values.NewString(n.ID.String())}
	case pd.DeclaringType == nodetype.RootType && pd.Name == nodetype.PropPrimaryType:
		return []values.Value{values.NewName(n.PrimaryType)}
	case pd.DeclaringType == nodetype.RootType && pd.Name == nodetype.PropMixinTypes:
		out := make([]values.Value, len(n.MixinTypes))
		for i, m := range n.MixinTypes {
			out[i] = values.NewName(m)
		}
		return out
	case pd.Name == nodetype.PropCreated || pd.Name == nodetype.PropLastModified:
		return []values.Value{values.NewDate(now)}
	default:
		return append([]values.Value(nil), pd.DefaultValues...)
	}
}
