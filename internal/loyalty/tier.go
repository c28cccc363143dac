package loyalty

type Tier string

const (
	TierNone   Tier = "No level"
	TierLevel1 Tier = "Level 1"
	TierLevel2 Tier = "Level 2"
	TierLevel3 Tier = "Level 3"
)

// Tier thresholds, checked from the highest down
const (
	level3Threshold = 1000
	level2Threshold = 500
	level1Threshold = 1
)

func (t Tier) String() string {
	return string(t)
}

// ResolveTier derives the loyalty tier from a cumulative point total.
func ResolveTier(totalPoints int) (Tier, error) {
	switch {
	case totalPoints < 0:
		return "", &ValidationError{Field: "total points", Reason: "must not be negative"}
	case totalPoints >= level3Threshold:
		return TierLevel3, nil
	case totalPoints >= level2Threshold:
		return TierLevel2, nil
	case totalPoints >= level1Threshold:
		return TierLevel1, nil
	default:
		return TierNone, nil
	}
}
