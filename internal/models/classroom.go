package models

// Classroom describes a bookable room.
type Classroom struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Capacity      int    `db:"capacity" json:"capacity"`
	ClassroomType string `db:"classroom_type" json:"classroom_type"`
	HasProjector  bool   `db:"has_projector" json:"has_projector"`
	HasWhiteboard bool   `db:"has_whiteboard" json:"has_whiteboard"`
	HasComputers  bool   `db:"has_computers" json:"has_computers"`
	IsActive      bool   `db:"is_active" json:"is_active"`
}
