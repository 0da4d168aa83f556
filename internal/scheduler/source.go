package scheduler

// source is the scheduler's record of one registered producer. Only
// notifications carrying the source's own id mutate it.
type source struct {
	id      SourceID
	label   string
	pending int

	grants      uint64
	completions uint64
}

func (s *source) info(active bool) SourceInfo {
	return SourceInfo{
		ID:          s.id,
		Label:       s.label,
		Pending:     s.pending,
		Grants:      s.grants,
		Completions: s.completions,
		Active:      active,
	}
}
