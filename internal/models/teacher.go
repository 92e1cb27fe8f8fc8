package models

// Teacher is the source of truth for teacher display names.
type Teacher struct {
	ID       int64  `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
}
