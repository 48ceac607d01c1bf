// Package scoring computes dispatch priority scores for issues. The same
// formula is mirrored in SQL by the claim queue so that ordering in the
// database and breakdowns shown to callers never disagree.
package scoring

import "time"

const (
	goalAlignmentBonus = 20
	dayMillis          = 24 * 60 * 60 * 1000
)

var priorityWeights = map[int]int{
	1: 100,
	2: 75,
	3: 50,
	4: 25,
	0: 10,
}

var typeBonuses = map[string]int{
	"signal":     50,
	"hypothesis": 40,
	"plan":       30,
	"task":       20,
	"monitor":    10,
}

// Breakdown itemizes the additive terms of an issue's dispatch score.
type Breakdown struct {
	PriorityWeight     int `json:"priority_weight"`
	TypeBonus          int `json:"type_bonus"`
	GoalAlignmentBonus int `json:"goal_alignment_bonus"`
	AgeBonus           int `json:"age_bonus"`
	Total              int `json:"total"`
}

// Score computes the dispatch score for an issue. Unknown priorities fall
// back to the lowest weight and unknown types contribute nothing. The age
// bonus grows by one point per full day since creation, without a cap, so
// old low-priority work eventually outranks fresh high-priority work.
func Score(priority int, issueType string, createdAt, now time.Time, hasActiveGoal bool) Breakdown {
	b := Breakdown{
		PriorityWeight: PriorityWeight(priority),
		TypeBonus:      typeBonuses[issueType],
	}
	if hasActiveGoal {
		b.GoalAlignmentBonus = goalAlignmentBonus
	}
	if elapsed := now.Sub(createdAt).Milliseconds(); elapsed > 0 {
		b.AgeBonus = int(elapsed / dayMillis)
	}
	b.Total = b.PriorityWeight + b.TypeBonus + b.GoalAlignmentBonus + b.AgeBonus
	return b
}

// PriorityWeight maps a numeric priority to its score weight.
func PriorityWeight(priority int) int {
	if w, ok := priorityWeights[priority]; ok {
		return w
	}
	return priorityWeights[0]
}
