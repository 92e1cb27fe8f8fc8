package models

// Preference strengths recognised by the evaluator.
const (
	PreferenceStrengthStrong = "strong"
	PreferenceStrengthMedium = "medium"
	PreferenceStrengthWeak   = "weak"
)

// TeacherPreference marks a (day, slot) cell as preferred or unwanted for a teacher.
type TeacherPreference struct {
	ID          int64   `db:"id" json:"id"`
	TeacherID   int64   `db:"teacher_id" json:"teacher_id"`
	DayOfWeek   int     `db:"day_of_week" json:"day_of_week"`
	TimeSlot    int     `db:"time_slot" json:"time_slot"`
	IsPreferred bool    `db:"is_preferred" json:"is_preferred"`
	Strength    *string `db:"preference_strength" json:"preference_strength,omitempty"`
	Reason      *string `db:"reason" json:"reason,omitempty"`
}

// Veto reports whether the record forbids the teacher from the slot entirely.
func (p TeacherPreference) Veto() bool {
	return !p.IsPreferred && p.Strength != nil && *p.Strength == PreferenceStrengthStrong
}
