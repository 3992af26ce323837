package penalty

import "ms-attendance/internal/models"

const (
	DefaultAbsentAmount  int64 = 10000
	DefaultLatePerMinute int64 = 500
	DefaultLateCap       int64 = 10000
)

// Policy maps an attendance outcome to the amount debited from the deposit.
type Policy struct {
	AbsentAmount  int64
	LatePerMinute int64
	LateCap       int64
}

func Default() Policy {
	return Policy{
		AbsentAmount:  DefaultAbsentAmount,
		LatePerMinute: DefaultLatePerMinute,
		LateCap:       DefaultLateCap,
	}
}

// Amount returns the penalty for outcome. A nil lateMinutes counts as zero.
func (p Policy) Amount(outcome models.Outcome, lateMinutes *int) int64 {
	switch outcome {
	case models.OutcomeAbsent:
		return p.AbsentAmount
	case models.OutcomeLate:
		if lateMinutes == nil || *lateMinutes <= 0 || p.LatePerMinute <= 0 {
			return 0
		}
		// Compare minutes against the capping threshold before multiplying so
		// large inputs cannot overflow.
		if int64(*lateMinutes) >= p.capMinutes() {
			return p.LateCap
		}
		return int64(*lateMinutes) * p.LatePerMinute
	default:
		return 0
	}
}

// capMinutes is the smallest lateness that reaches LateCap.
func (p Policy) capMinutes() int64 {
	if p.LateCap <= 0 {
		return 0
	}
	return (p.LateCap + p.LatePerMinute - 1) / p.LatePerMinute
}
