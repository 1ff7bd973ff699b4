package domain

// Snapshot is the serializable image of an authoritative tree.
// Resources are flat (no Children) and sorted by address, root first.
type Snapshot struct {
	Revision  uint64      `json:"revision" yaml:"revision"`
	Resources []*Resource `json:"resources" yaml:"resources"`
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Revision: s.Revision, Resources: make([]*Resource, len(s.Resources))}
	for i, r := range s.Resources {
		out.Resources[i] = r.Clone()
	}
	return out
}
