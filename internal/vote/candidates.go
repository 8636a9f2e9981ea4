package vote

// Candidates is the fixed, ordered option set of the poll. Order is the
// tie-break order for results.
type Candidates struct {
	ids   []string
	index map[string]int
}

func NewCandidates(ids ...string) Candidates {
	c := Candidates{index: make(map[string]int, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := c.index[id]; dup {
			continue
		}
		c.index[id] = len(c.ids)
		c.ids = append(c.ids, id)
	}
	return c
}

func (c Candidates) Valid(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c Candidates) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c Candidates) Len() int {
	return len(c.ids)
}
