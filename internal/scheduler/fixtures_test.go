package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// --- Fixtures ---

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

func seeded(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func newLoad(id, teacherID, groupID int64, hours int) models.CourseLoad {
	return models.CourseLoad{
		ID:               id,
		DisciplineName:   "Math",
		LessonType:       models.LessonTypeLecture,
		TeacherID:        int64Ptr(teacherID),
		TeacherName:      fmt.Sprintf("Teacher %d", teacherID),
		TeacherPriority:  4,
		GroupID:          int64Ptr(groupID),
		GroupName:        fmt.Sprintf("Group %d", groupID),
		GroupSize:        15,
		HoursPerSemester: hours,
		Semester:         1,
		AcademicYear:     "2025/2026",
		IsActive:         true,
	}
}

func newRoom(id int64, capacity int, kind string) models.Classroom {
	return models.Classroom{
		ID:            id,
		Name:          fmt.Sprintf("Room %d", id),
		Capacity:      capacity,
		ClassroomType: kind,
		IsActive:      true,
	}
}

func newLesson(id, teacherID, groupID int64, day, slot int) models.ScheduleEntry {
	return models.ScheduleEntry{
		ID:              id,
		CourseLoadID:    id,
		DayOfWeek:       day,
		TimeSlot:        slot,
		WeekType:        models.WeekTypeBoth,
		TeacherID:       teacherID,
		TeacherPriority: 4,
		GroupID:         groupID,
		GroupSize:       15,
		LessonType:      models.LessonTypeLecture,
		Semester:        1,
		AcademicYear:    "2025/2026",
		IsActive:        true,
	}
}

func withRoom(lesson models.ScheduleEntry, room models.Classroom) models.ScheduleEntry {
	lesson.ClassroomID = int64Ptr(room.ID)
	lesson.ClassroomName = strPtr(room.Name)
	return lesson
}

func preferred(teacherID int64, day, slot int) models.TeacherPreference {
	return models.TeacherPreference{TeacherID: teacherID, DayOfWeek: day, TimeSlot: slot, IsPreferred: true}
}

func vetoed(teacherID int64, day, slot int) models.TeacherPreference {
	return models.TeacherPreference{
		TeacherID: teacherID,
		DayOfWeek: day,
		TimeSlot:  slot,
		Strength:  strPtr(models.PreferenceStrengthStrong),
	}
}

// requireScheduleInvariants checks the hard invariants every produced schedule must hold.
func requireScheduleInvariants(t *testing.T, lessons []models.ScheduleEntry) {
	t.Helper()
	type cell struct {
		key SlotKey
		id  int64
	}
	teachers := make(map[cell]int64)
	groups := make(map[cell]int64)
	rooms := make(map[cell]int64)
	teacherDays := make(map[entityDay]map[int]bool)
	groupDays := make(map[entityDay]map[int]bool)

	for _, lesson := range lessons {
		require.GreaterOrEqual(t, lesson.DayOfWeek, 1, "lesson %d day", lesson.ID)
		require.LessOrEqual(t, lesson.DayOfWeek, MaxDays, "lesson %d day", lesson.ID)
		require.GreaterOrEqual(t, lesson.TimeSlot, 1, "lesson %d slot", lesson.ID)
		require.LessOrEqual(t, lesson.TimeSlot, DefaultSlots, "lesson %d slot", lesson.ID)

		key := KeyOf(lesson)
		if other, ok := teachers[cell{key, lesson.TeacherID}]; ok {
			t.Fatalf("teacher %d double-booked by lessons %d and %d", lesson.TeacherID, other, lesson.ID)
		}
		teachers[cell{key, lesson.TeacherID}] = lesson.ID
		if other, ok := groups[cell{key, lesson.GroupID}]; ok {
			t.Fatalf("group %d double-booked by lessons %d and %d", lesson.GroupID, other, lesson.ID)
		}
		groups[cell{key, lesson.GroupID}] = lesson.ID
		if lesson.ClassroomID != nil {
			if other, ok := rooms[cell{key, *lesson.ClassroomID}]; ok {
				t.Fatalf("classroom %d double-booked by lessons %d and %d", *lesson.ClassroomID, other, lesson.ID)
			}
			rooms[cell{key, *lesson.ClassroomID}] = lesson.ID
		}

		td := entityDay{ID: lesson.TeacherID, Day: lesson.DayOfWeek}
		if teacherDays[td] == nil {
			teacherDays[td] = make(map[int]bool)
		}
		teacherDays[td][lesson.TimeSlot] = true
		gd := entityDay{ID: lesson.GroupID, Day: lesson.DayOfWeek}
		if groupDays[gd] == nil {
			groupDays[gd] = make(map[int]bool)
		}
		groupDays[gd][lesson.TimeSlot] = true
	}

	for key, slots := range teacherDays {
		require.LessOrEqual(t, len(slots), DailyLessonCap, "teacher %d day %d", key.ID, key.Day)
	}
	for key, slots := range groupDays {
		require.LessOrEqual(t, len(slots), DailyLessonCap, "group %d day %d", key.ID, key.Day)
	}
}

// busyLoads is a mixed workload shared by several property tests.
func busyLoads() []models.CourseLoad {
	var loads []models.CourseLoad
	id := int64(1)
	for teacher := int64(10); teacher < 15; teacher++ {
		for group := int64(20); group < 23; group++ {
			load := newLoad(id, teacher, group, 24*int(1+id%3))
			if id%4 == 0 {
				load.LessonType = "lab"
			}
			load.TeacherPriority = int(1 + teacher%4)
			loads = append(loads, load)
			id++
		}
	}
	return loads
}

func busyRooms() []models.Classroom {
	return []models.Classroom{
		newRoom(1, 30, models.LessonTypeLecture),
		newRoom(2, 20, models.LessonTypeLecture),
		newRoom(3, 25, models.LessonTypeLab),
	}
}
