package domain

// NodeStatus is the derived tri-state selection status of a node in the
// dataset/case/patient/specimen hierarchy. It is always recomputed from the
// leaf selection set and never stored, so ancestor status cannot drift from
// leaf truth.
type NodeStatus string

const (
	StatusSelected      NodeStatus = "selected"
	StatusUnselected    NodeStatus = "unselected"
	StatusIndeterminate NodeStatus = "indeterminate"
)

// FoldStatuses aggregates child statuses into a parent status: selected iff
// all children are selected, unselected iff all are unselected, otherwise
// indeterminate. A childless node is unselected.
func FoldStatuses(children []NodeStatus) NodeStatus {
	if len(children) == 0 {
		return StatusUnselected
	}
	allSelected := true
	allUnselected := true
	for _, s := range children {
		if s != StatusSelected {
			allSelected = false
		}
		if s != StatusUnselected {
			allUnselected = false
		}
	}
	switch {
	case allSelected:
		return StatusSelected
	case allUnselected:
		return StatusUnselected
	default:
		return StatusIndeterminate
	}
}
