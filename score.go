package agora

// ScoreDelta returns how much a transition moves the net score of its target.
// It is the only way a target score changes: the delta is applied to the cached
// score in the same transaction as the ledger write.
func ScoreDelta(t Transition) int64 {
	switch t.Kind {
	case Added:
		return directionValue(t.To)
	case Removed:
		return -directionValue(t.To)
	case Switched:
		return directionValue(t.To) - directionValue(t.From)
	}
	return 0
}

func directionValue(d Direction) int64 {
	if d == Up {
		return 1
	}
	return -1
}

// RecountScore computes a score from scratch out of ledger entries. It is used
// to check cached scores for drift, never on the write path.
func RecountScore(votes []*Vote) int64 {
	var score int64
	for _, v := range votes {
		score += directionValue(v.Direction)
	}
	return score
}
