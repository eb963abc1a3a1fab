package model

// Snapshot is an immutable copy of the prayer set and global flag handed to a
// scheduling layer at arm time. Layers never share the caller's slices.
type Snapshot struct {
	Prayers          []Prayer `json:"prayers"`
	IsGloballyActive bool     `json:"is_globally_active"`
}

// NewSnapshot deep-copies prayers.
func NewSnapshot(prayers []Prayer, active bool) Snapshot {
	p := ClonePrayers(prayers)
	if p == nil {
		p = []Prayer{}
	}
	return Snapshot{Prayers: p, IsGloballyActive: active}
}

// SnapshotOf captures the prayer fields of a scheduling state.
func SnapshotOf(st SchedulingState) Snapshot {
	return NewSnapshot(st.Prayers, st.IsGloballyActive)
}
