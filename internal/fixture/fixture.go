// Package fixture reads and writes the CSV files consumed by timetable-cli.
package fixture

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
)

// LoadRow is one line of a course load file. Zero teacher or group ids mean
// the load is not linked yet.
type LoadRow struct {
	ID               int64  `csv:"id"`
	DisciplineName   string `csv:"discipline"`
	LessonType       string `csv:"lesson_type"`
	TeacherID        int64  `csv:"teacher_id"`
	TeacherName      string `csv:"teacher_name"`
	TeacherPriority  int    `csv:"teacher_priority"`
	GroupID          int64  `csv:"group_id"`
	GroupName        string `csv:"group_name"`
	GroupSize        int    `csv:"group_size"`
	HoursPerSemester int    `csv:"hours_per_semester"`
}

// ClassroomRow is one line of a classroom file.
type ClassroomRow struct {
	ID            int64  `csv:"id"`
	Name          string `csv:"name"`
	Capacity      int    `csv:"capacity"`
	ClassroomType string `csv:"classroom_type"`
	HasProjector  bool   `csv:"has_projector"`
	HasComputers  bool   `csv:"has_computers"`
}

// PreferenceRow is one line of a teacher preference file.
type PreferenceRow struct {
	TeacherID   int64  `csv:"teacher_id"`
	DayOfWeek   int    `csv:"day"`
	TimeSlot    int    `csv:"slot"`
	IsPreferred bool   `csv:"is_preferred"`
	Strength    string `csv:"strength"`
}

// LessonRow is one line of a schedule file.
type LessonRow struct {
	ID             int64  `csv:"id"`
	CourseLoadID   int64  `csv:"course_load_id"`
	DayOfWeek      int    `csv:"day"`
	TimeSlot       int    `csv:"slot"`
	WeekType       string `csv:"week_type"`
	ClassroomID    int64  `csv:"classroom_id"`
	TeacherID      int64  `csv:"teacher_id"`
	TeacherName    string `csv:"teacher_name"`
	GroupID        int64  `csv:"group_id"`
	GroupName      string `csv:"group_name"`
	DisciplineName string `csv:"discipline"`
	LessonType     string `csv:"lesson_type"`
}

// Paths names the input files of a run. Preferences is optional.
type Paths struct {
	Loads       string
	Classrooms  string
	Preferences string
}

// ReadLoads parses course loads. Every load is stamped with the given
// semester and academic year and marked active.
func ReadLoads(r io.Reader, semester int, academicYear string) ([]models.CourseLoad, error) {
	rows := []*LoadRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse course loads: %w", err)
	}
	loads := make([]models.CourseLoad, 0, len(rows))
	for _, row := range rows {
		load := models.CourseLoad{
			ID:               row.ID,
			DisciplineName:   row.DisciplineName,
			LessonType:       row.LessonType,
			TeacherName:      row.TeacherName,
			TeacherPriority:  row.TeacherPriority,
			GroupName:        row.GroupName,
			GroupSize:        row.GroupSize,
			HoursPerSemester: row.HoursPerSemester,
			Semester:         semester,
			AcademicYear:     academicYear,
			IsActive:         true,
		}
		if row.TeacherID > 0 {
			load.TeacherID = int64Ptr(row.TeacherID)
		}
		if row.GroupID > 0 {
			load.GroupID = int64Ptr(row.GroupID)
		}
		loads = append(loads, load)
	}
	return loads, nil
}

// ReadClassrooms parses classrooms.
func ReadClassrooms(r io.Reader) ([]models.Classroom, error) {
	rows := []*ClassroomRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse classrooms: %w", err)
	}
	rooms := make([]models.Classroom, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, models.Classroom{
			ID:            row.ID,
			Name:          row.Name,
			Capacity:      row.Capacity,
			ClassroomType: row.ClassroomType,
			HasProjector:  row.HasProjector,
			HasComputers:  row.HasComputers,
			IsActive:      true,
		})
	}
	return rooms, nil
}

// ReadPreferences parses teacher preferences.
func ReadPreferences(r io.Reader) ([]models.TeacherPreference, error) {
	rows := []*PreferenceRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}
	prefs := make([]models.TeacherPreference, 0, len(rows))
	for i, row := range rows {
		pref := models.TeacherPreference{
			ID:          int64(i + 1),
			TeacherID:   row.TeacherID,
			DayOfWeek:   row.DayOfWeek,
			TimeSlot:    row.TimeSlot,
			IsPreferred: row.IsPreferred,
		}
		if row.Strength != "" {
			strength := row.Strength
			pref.Strength = &strength
		}
		prefs = append(prefs, pref)
	}
	return prefs, nil
}

// ReadSchedule parses a schedule file. Rows outside the grid are rejected.
func ReadSchedule(r io.Reader, grid scheduler.Grid) ([]models.ScheduleEntry, error) {
	rows := []*LessonRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	lessons := make([]models.ScheduleEntry, 0, len(rows))
	for i, row := range rows {
		if err := grid.Validate(row.DayOfWeek, row.TimeSlot); err != nil {
			return nil, fmt.Errorf("schedule row %d: %w", i+1, err)
		}
		lesson := models.ScheduleEntry{
			ID:             row.ID,
			CourseLoadID:   row.CourseLoadID,
			DayOfWeek:      row.DayOfWeek,
			TimeSlot:       row.TimeSlot,
			WeekType:       row.WeekType,
			TeacherID:      row.TeacherID,
			TeacherName:    row.TeacherName,
			GroupID:        row.GroupID,
			GroupName:      row.GroupName,
			DisciplineName: row.DisciplineName,
			LessonType:     row.LessonType,
			IsActive:       true,
		}
		if lesson.ID == 0 {
			lesson.ID = int64(i + 1)
		}
		if row.ClassroomID > 0 {
			lesson.ClassroomID = int64Ptr(row.ClassroomID)
		}
		lessons = append(lessons, lesson)
	}
	return lessons, nil
}

// WriteSchedule writes lessons in the order given.
func WriteSchedule(w io.Writer, lessons []models.ScheduleEntry) error {
	rows := make([]*LessonRow, 0, len(lessons))
	for _, lesson := range lessons {
		row := &LessonRow{
			ID:             lesson.ID,
			CourseLoadID:   lesson.CourseLoadID,
			DayOfWeek:      lesson.DayOfWeek,
			TimeSlot:       lesson.TimeSlot,
			WeekType:       lesson.EffectiveWeekType(),
			TeacherID:      lesson.TeacherID,
			TeacherName:    lesson.TeacherName,
			GroupID:        lesson.GroupID,
			GroupName:      lesson.GroupName,
			DisciplineName: lesson.DisciplineName,
			LessonType:     lesson.LessonType,
		}
		if lesson.ClassroomID != nil {
			row.ClassroomID = *lesson.ClassroomID
		}
		rows = append(rows, row)
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// LoadInputs reads the engine inputs from disk.
func LoadInputs(paths Paths, semester int, academicYear string) (scheduler.Inputs, error) {
	var inputs scheduler.Inputs

	err := withFile(paths.Loads, func(r io.Reader) (err error) {
		inputs.Loads, err = ReadLoads(r, semester, academicYear)
		return err
	})
	if err != nil {
		return inputs, err
	}
	err = withFile(paths.Classrooms, func(r io.Reader) (err error) {
		inputs.Classrooms, err = ReadClassrooms(r)
		return err
	})
	if err != nil {
		return inputs, err
	}
	if paths.Preferences != "" {
		err = withFile(paths.Preferences, func(r io.Reader) (err error) {
			inputs.Preferences, err = ReadPreferences(r)
			return err
		})
		if err != nil {
			return inputs, err
		}
	}
	return inputs, nil
}

// LoadSchedule reads a schedule file from disk.
func LoadSchedule(path string, grid scheduler.Grid) ([]models.ScheduleEntry, error) {
	var lessons []models.ScheduleEntry
	err := withFile(path, func(r io.Reader) (err error) {
		lessons, err = ReadSchedule(r, grid)
		return err
	})
	return lessons, err
}

// SaveSchedule writes lessons to path, replacing any existing file.
func SaveSchedule(path string, lessons []models.ScheduleEntry) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteSchedule(out, lessons); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func withFile(path string, fn func(io.Reader) error) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()
	return fn(in)
}

func int64Ptr(v int64) *int64 {
	return &v
}
