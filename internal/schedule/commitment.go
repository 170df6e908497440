package schedule

// Commitment is a scheduled item. Completed commitments never block time.
type Commitment struct {
	ID        string   `json:"id"`
	Interval  Interval `json:"interval"`
	Completed bool     `json:"completed"`
}

func pending(cs []Commitment) []Commitment {
	out := make([]Commitment, 0, len(cs))
	for _, c := range cs {
		if c.Completed || !c.Interval.valid() {
			continue
		}
		out = append(out, c)
	}
	return out
}
