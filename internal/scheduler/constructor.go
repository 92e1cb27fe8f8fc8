package scheduler

import (
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// Inputs are the read-only records a schedule is built from.
type Inputs struct {
	Loads       []models.CourseLoad
	Classrooms  []models.Classroom
	Preferences []models.TeacherPreference
}

// Shortfall records a load that could not be fully placed.
type Shortfall struct {
	CourseLoadID int64  `json:"course_load_id"`
	Discipline   string `json:"discipline"`
	Expected     int    `json:"expected"`
	Placed       int    `json:"placed"`
}

// Construction is the output of a constructor pass.
type Construction struct {
	Lessons    []models.ScheduleEntry
	Shortfalls []Shortfall
	Skipped    []int64
}

// ConstructorConfig tunes the initial constructor.
type ConstructorConfig struct {
	Grid            Grid
	WeeksInSemester int
	// SharedSlots lets different groups use the same (day, slot) cell. By
	// default a cell holds a single lesson per pass.
	SharedSlots bool
	Rand        *rand.Rand
	Logger      *zap.Logger
}

// Constructor greedily builds a conflict-free seed schedule.
type Constructor struct {
	grid   Grid
	weeks  int
	shared bool
	rng    *rand.Rand
	logger *zap.Logger
}

// NewConstructor applies defaults to cfg.
func NewConstructor(cfg ConstructorConfig) *Constructor {
	if cfg.Grid.Days == 0 || cfg.Grid.Slots == 0 {
		cfg.Grid = DefaultGrid()
	}
	if cfg.WeeksInSemester <= 0 {
		cfg.WeeksInSemester = DefaultWeeksInSemester
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Constructor{
		grid:   cfg.Grid,
		weeks:  cfg.WeeksInSemester,
		shared: cfg.SharedSlots,
		rng:    cfg.Rand,
		logger: cfg.Logger,
	}
}

// buildState is the per-pass mutable state.
type buildState struct {
	index   *Index
	prefs   PreferenceIndex
	rooms   []models.Classroom
	lessons []models.ScheduleEntry
	nextID  int64
}

// Build places every expected lesson occurrence it can.
func (c *Constructor) Build(in Inputs) Construction {
	state := &buildState{
		index:  NewIndex(c.grid, !c.shared, c.logger),
		prefs:  NewPreferenceIndex(in.Preferences),
		rooms:  activeRooms(in.Classrooms),
		nextID: 1,
	}

	loads := append([]models.CourseLoad(nil), in.Loads...)
	c.rng.Shuffle(len(loads), func(i, j int) { loads[i], loads[j] = loads[j], loads[i] })

	result := Construction{}
	for _, load := range loads {
		if !load.Linked() {
			c.logger.Warn("skipping load without teacher or group", zap.Int64("course_load_id", load.ID))
			result.Skipped = append(result.Skipped, load.ID)
			continue
		}
		expected := LessonsPerWeek(load.HoursPerSemester, c.weeks, c.grid)
		if expected == 0 {
			c.logger.Warn("skipping load without hours", zap.Int64("course_load_id", load.ID))
			result.Skipped = append(result.Skipped, load.ID)
			continue
		}

		placed := c.placeLoad(state, load, expected)
		if placed < expected {
			c.logger.Warn("load short of target",
				zap.Int64("course_load_id", load.ID),
				zap.String("discipline", load.DisciplineName),
				zap.Int("expected", expected),
				zap.Int("placed", placed),
			)
			result.Shortfalls = append(result.Shortfalls, Shortfall{
				CourseLoadID: load.ID,
				Discipline:   load.DisciplineName,
				Expected:     expected,
				Placed:       placed,
			})
		}
	}

	result.Lessons = c.cleanup(state.lessons)
	return result
}

func (c *Constructor) placeLoad(state *buildState, load models.CourseLoad, expected int) int {
	used := make(map[SlotKey]bool)
	distribution := c.distribute(state, load, expected)
	kind := CanonicalLessonKind(load.LessonType)

	placed := 0
	pending := 0
	for day := 1; day <= c.grid.Days; day++ {
		count := distribution[day]
		if count == 0 {
			continue
		}
		if start := c.findBlock(state, load, day, count, used); start > 0 {
			for slot := start; slot < start+count; slot++ {
				if c.place(state, load, kind, SlotKey{Day: day, Slot: slot}, used) {
					placed++
				}
			}
			continue
		}
		remaining := count
		for slot := 1; slot <= c.grid.Slots && remaining > 0; slot++ {
			key := SlotKey{Day: day, Slot: slot}
			if c.placeable(state, load, key, used) && c.place(state, load, kind, key, used) {
				placed++
				remaining--
			}
		}
		pending += remaining
	}

	// Global fallback: any other day that still has room.
	for _, day := range c.dayOrder(state, load) {
		for slot := 1; slot <= c.grid.Slots && pending > 0; slot++ {
			key := SlotKey{Day: day, Slot: slot}
			if c.placeable(state, load, key, used) && c.place(state, load, kind, key, used) {
				placed++
				pending--
			}
		}
		if pending == 0 {
			break
		}
	}
	return placed
}

// distribute spreads lessons across the week: every day gets the base share,
// the remainder goes to days chosen at random among the least loaded ones.
func (c *Constructor) distribute(state *buildState, load models.CourseLoad, lessons int) map[int]int {
	distribution := make(map[int]int, c.grid.Days)
	base := lessons / c.grid.Days
	remainder := lessons % c.grid.Days
	for day := 1; day <= c.grid.Days; day++ {
		distribution[day] = base
	}
	for _, day := range c.dayOrder(state, load)[:remainder] {
		distribution[day]++
	}
	return distribution
}

// dayOrder shuffles the days and then orders them by how busy the group and
// teacher already are, so ties stay random.
func (c *Constructor) dayOrder(state *buildState, load models.CourseLoad) []int {
	days := make([]int, c.grid.Days)
	for i := range days {
		days[i] = i + 1
	}
	c.rng.Shuffle(len(days), func(i, j int) { days[i], days[j] = days[j], days[i] })
	busy := func(day int) int {
		return state.index.GroupDayCount(*load.GroupID, day) + state.index.TeacherDayCount(*load.TeacherID, day)
	}
	sort.SliceStable(days, func(i, j int) bool { return busy(days[i]) < busy(days[j]) })
	return days
}

// findBlock returns the first start slot of count contiguous placeable slots
// on day, or 0 when none exists.
func (c *Constructor) findBlock(state *buildState, load models.CourseLoad, day, count int, used map[SlotKey]bool) int {
	if count > c.grid.Slots {
		return 0
	}
	if state.index.GroupDayCount(*load.GroupID, day)+count > DailyLessonCap ||
		state.index.TeacherDayCount(*load.TeacherID, day)+count > DailyLessonCap {
		return 0
	}
	for start := 1; start <= c.grid.Slots-count+1; start++ {
		fits := true
		for slot := start; slot < start+count; slot++ {
			if !c.placeable(state, load, SlotKey{Day: day, Slot: slot}, used) {
				fits = false
				break
			}
		}
		if fits {
			return start
		}
	}
	return 0
}

func (c *Constructor) placeable(state *buildState, load models.CourseLoad, key SlotKey, used map[SlotKey]bool) bool {
	if !c.grid.Contains(key.Day, key.Slot) || used[key] {
		return false
	}
	teacherID, groupID := *load.TeacherID, *load.GroupID
	if state.index.HasConflict(key, teacherID, groupID, nil) {
		return false
	}
	if state.index.TeacherDayCount(teacherID, key.Day) >= DailyLessonCap || state.index.GroupDayCount(groupID, key.Day) >= DailyLessonCap {
		return false
	}
	return !state.prefs.Vetoed(teacherID, key)
}

func (c *Constructor) place(state *buildState, load models.CourseLoad, kind string, key SlotKey, used map[SlotKey]bool) bool {
	entry := models.ScheduleEntry{
		ID:              state.nextID,
		CourseLoadID:    load.ID,
		DayOfWeek:       key.Day,
		TimeSlot:        key.Slot,
		WeekType:        models.WeekTypeBoth,
		TeacherID:       *load.TeacherID,
		TeacherName:     load.TeacherName,
		TeacherPriority: normalizePriority(load.TeacherPriority),
		GroupID:         *load.GroupID,
		GroupName:       load.GroupName,
		GroupSize:       load.GroupSize,
		DisciplineName:  load.DisciplineName,
		LessonType:      kind,
		Semester:        load.Semester,
		AcademicYear:    load.AcademicYear,
		IsActive:        true,
	}
	if room, ok := pickRoom(c.rng, state.index, state.rooms, key, load.GroupSize, kind); ok {
		entry.ClassroomID = &room.ID
		name := room.Name
		entry.ClassroomName = &name
	}
	if err := state.index.MarkOccupied(key, &entry); err != nil {
		return false
	}
	state.nextID++
	used[key] = true
	state.lessons = append(state.lessons, entry)
	return true
}

// cleanup drops lessons outside the week and keeps only the first lesson per
// (day, slot, group).
func (c *Constructor) cleanup(lessons []models.ScheduleEntry) []models.ScheduleEntry {
	type groupCell struct {
		key     SlotKey
		groupID int64
	}
	seen := make(map[groupCell]bool, len(lessons))
	result := make([]models.ScheduleEntry, 0, len(lessons))
	for _, lesson := range lessons {
		if c.grid.Validate(lesson.DayOfWeek, lesson.TimeSlot) != nil {
			c.logger.Error("dropping lesson outside the week", zap.Int64("lesson_id", lesson.ID), zap.Int("day", lesson.DayOfWeek))
			continue
		}
		cell := groupCell{key: KeyOf(lesson), groupID: lesson.GroupID}
		if seen[cell] {
			c.logger.Error("dropping duplicate group lesson", zap.Int64("lesson_id", lesson.ID), zap.Int("day", lesson.DayOfWeek), zap.Int("slot", lesson.TimeSlot))
			continue
		}
		seen[cell] = true
		result = append(result, lesson)
	}
	return result
}

func activeRooms(rooms []models.Classroom) []models.Classroom {
	result := make([]models.Classroom, 0, len(rooms))
	for _, room := range rooms {
		if room.IsActive {
			result = append(result, room)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// compatibleRoom reports whether the room can host a lesson of kind for size students.
func compatibleRoom(room models.Classroom, size int, kind string) bool {
	if room.Capacity < size {
		return false
	}
	if kind == models.LessonTypeLab && CanonicalLessonKind(room.ClassroomType) != models.LessonTypeLab {
		return false
	}
	return true
}

// pickRoom chooses uniformly among compatible rooms free at key.
func pickRoom(rng *rand.Rand, index *Index, rooms []models.Classroom, key SlotKey, size int, kind string) (models.Classroom, bool) {
	candidates := make([]models.Classroom, 0, len(rooms))
	for _, room := range rooms {
		if compatibleRoom(room, size, kind) && index.RoomFree(key, room.ID) {
			candidates = append(candidates, room)
		}
	}
	if len(candidates) == 0 {
		return models.Classroom{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}
