package scheduler

import (
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
)

type entityDay struct {
	ID  int64
	Day int
}

// Index keeps occupancy lookups for an in-memory schedule.
//
// When exclusive is set a (day, slot) cell holds at most one lesson; this is
// the constructor's mode. Workspaces use the shared mode where only teacher,
// group and classroom double-booking counts as a conflict.
type Index struct {
	grid      Grid
	exclusive bool
	logger    *zap.Logger

	occupied    map[SlotKey]int64
	teachers    map[SlotKey]map[int64]int
	groups      map[SlotKey]map[int64]int
	rooms       map[SlotKey]map[int64]int
	teacherDays map[entityDay][]int
	groupDays   map[entityDay][]int
}

// NewIndex builds an empty index.
func NewIndex(grid Grid, exclusive bool, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		grid:        grid,
		exclusive:   exclusive,
		logger:      logger,
		occupied:    make(map[SlotKey]int64),
		teachers:    make(map[SlotKey]map[int64]int),
		groups:      make(map[SlotKey]map[int64]int),
		rooms:       make(map[SlotKey]map[int64]int),
		teacherDays: make(map[entityDay][]int),
		groupDays:   make(map[entityDay][]int),
	}
}

// HasConflict reports whether placing the triple at key would double-book a
// teacher, a group or a classroom (or the cell itself in exclusive mode).
func (x *Index) HasConflict(key SlotKey, teacherID, groupID int64, classroomID *int64) bool {
	if x.exclusive {
		if _, taken := x.occupied[key]; taken {
			return true
		}
	}
	if x.teachers[key][teacherID] > 0 {
		return true
	}
	if x.groups[key][groupID] > 0 {
		return true
	}
	if classroomID != nil && x.rooms[key][*classroomID] > 0 {
		return true
	}
	return false
}

// MarkOccupied records a lesson at key. It refuses cells outside the grid,
// occupied cells and conflicting placements, logging the refusal.
func (x *Index) MarkOccupied(key SlotKey, lesson *models.ScheduleEntry) error {
	if err := x.grid.Validate(key.Day, key.Slot); err != nil {
		x.logger.Error("refusing placement outside grid", zap.Int("day", key.Day), zap.Int("slot", key.Slot), zap.Int64("lesson_id", lesson.ID))
		return err
	}
	if existing, taken := x.occupied[key]; taken && x.exclusive {
		x.logger.Error("refusing placement on occupied slot",
			zap.Int("day", key.Day),
			zap.Int("slot", key.Slot),
			zap.Int64("lesson_id", lesson.ID),
			zap.Int64("occupant_id", existing),
		)
		return ErrSlotOccupied
	}
	if x.HasConflict(key, lesson.TeacherID, lesson.GroupID, lesson.ClassroomID) {
		x.logger.Error("refusing conflicting placement",
			zap.Int("day", key.Day),
			zap.Int("slot", key.Slot),
			zap.Int64("lesson_id", lesson.ID),
			zap.Int64("teacher_id", lesson.TeacherID),
			zap.Int64("group_id", lesson.GroupID),
		)
		return ErrSlotConflict
	}
	x.insert(key, *lesson)
	return nil
}

// insert records a lesson without any checks. Used to mirror schedules that
// may already contain conflicts.
func (x *Index) insert(key SlotKey, lesson models.ScheduleEntry) {
	if _, taken := x.occupied[key]; !taken {
		x.occupied[key] = lesson.ID
	}
	bump(x.teachers, key, lesson.TeacherID, 1)
	bump(x.groups, key, lesson.GroupID, 1)
	if lesson.ClassroomID != nil {
		bump(x.rooms, key, *lesson.ClassroomID, 1)
	}
	addSlot(x.teacherDays, entityDay{ID: lesson.TeacherID, Day: key.Day}, key.Slot)
	addSlot(x.groupDays, entityDay{ID: lesson.GroupID, Day: key.Day}, key.Slot)
}

// Release removes a lesson previously recorded at its current coordinates.
func (x *Index) Release(lesson models.ScheduleEntry) {
	key := KeyOf(lesson)
	if occupant, taken := x.occupied[key]; taken && occupant == lesson.ID {
		delete(x.occupied, key)
	}
	bump(x.teachers, key, lesson.TeacherID, -1)
	bump(x.groups, key, lesson.GroupID, -1)
	if lesson.ClassroomID != nil {
		bump(x.rooms, key, *lesson.ClassroomID, -1)
	}
	removeSlot(x.teacherDays, entityDay{ID: lesson.TeacherID, Day: key.Day}, key.Slot)
	removeSlot(x.groupDays, entityDay{ID: lesson.GroupID, Day: key.Day}, key.Slot)
}

// TeacherBusy reports whether the teacher already teaches at key.
func (x *Index) TeacherBusy(key SlotKey, teacherID int64) bool {
	return x.teachers[key][teacherID] > 0
}

// GroupBusy reports whether the group already attends a lesson at key.
func (x *Index) GroupBusy(key SlotKey, groupID int64) bool {
	return x.groups[key][groupID] > 0
}

// RoomFree reports whether the classroom is unused at key.
func (x *Index) RoomFree(key SlotKey, classroomID int64) bool {
	return x.rooms[key][classroomID] == 0
}

// TeacherDayCount is the number of lessons of the teacher on day.
func (x *Index) TeacherDayCount(teacherID int64, day int) int {
	return len(x.teacherDays[entityDay{ID: teacherID, Day: day}])
}

// GroupDayCount is the number of lessons of the group on day.
func (x *Index) GroupDayCount(groupID int64, day int) int {
	return len(x.groupDays[entityDay{ID: groupID, Day: day}])
}

// TeacherSlots returns the ordered slots the teacher uses on day.
func (x *Index) TeacherSlots(teacherID int64, day int) []int {
	return append([]int(nil), x.teacherDays[entityDay{ID: teacherID, Day: day}]...)
}

func bump(target map[SlotKey]map[int64]int, key SlotKey, id int64, delta int) {
	bucket := target[key]
	if bucket == nil {
		if delta < 0 {
			return
		}
		bucket = make(map[int64]int)
		target[key] = bucket
	}
	bucket[id] += delta
	if bucket[id] <= 0 {
		delete(bucket, id)
	}
	if len(bucket) == 0 {
		delete(target, key)
	}
}

func addSlot(target map[entityDay][]int, key entityDay, slot int) {
	slots := append(target[key], slot)
	sort.Ints(slots)
	target[key] = slots
}

func removeSlot(target map[entityDay][]int, key entityDay, slot int) {
	slots := target[key]
	for i, value := range slots {
		if value == slot {
			slots = append(slots[:i], slots[i+1:]...)
			break
		}
	}
	if len(slots) == 0 {
		delete(target, key)
		return
	}
	target[key] = slots
}
