package scheduler

import (
	"sort"

	"github.com/samber/lo"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// Variant selects which penalty set the evaluator applies.
type Variant int

const (
	// VariantLocalSearch scores hard, preference, isolated and gap penalties.
	VariantLocalSearch Variant = iota
	// VariantEvolutionary adds the auxiliary compactness penalties and uses a flat gap penalty.
	VariantEvolutionary
)

// Penalty weights.
const (
	HardPenalty     = -10000
	IsolatedPenalty = -300

	flatGapPenalty        = -10
	edgeSlotPenalty       = -5
	scatteredDayPenalty   = -5
	unevenLoadPenalty     = -15
	roomChangePenalty     = -8
	lowUtilizationPenalty = -3
)

// Conflict and violation kinds.
const (
	KindTeacher   = "teacher"
	KindGroup     = "group"
	KindClassroom = "classroom"

	ViolationCapacity      = "capacity"
	ViolationRoomType      = "room_type"
	ViolationVeto          = "availability_veto"
	ViolationTeacherDayCap = "teacher_daily_cap"
	ViolationGroupDayCap   = "group_daily_cap"
)

var priorityPenalties = map[int]int{1: -500, 2: -200, 3: -100, 4: -30}

// PriorityPenalty returns the preference penalty of a teacher priority tier.
// Unknown tiers are treated as tier 4.
func PriorityPenalty(priority int) int {
	if penalty, ok := priorityPenalties[priority]; ok {
		return penalty
	}
	return priorityPenalties[4]
}

// GapPenalty returns the table penalty of a gap of the given length.
func GapPenalty(length int) int {
	switch {
	case length <= 0:
		return 0
	case length == 1:
		return -20
	case length == 2:
		return -100
	default:
		return -300
	}
}

// Conflict is a double-booked teacher, group or classroom.
type Conflict struct {
	Kind      string  `json:"kind"`
	EntityID  int64   `json:"entity_id"`
	Day       int     `json:"day"`
	Slot      int     `json:"slot"`
	LessonIDs []int64 `json:"lesson_ids"`
}

// HardViolation is a breached hard constraint other than double-booking.
type HardViolation struct {
	Kind     string `json:"kind"`
	LessonID int64  `json:"lesson_id,omitempty"`
	EntityID int64  `json:"entity_id"`
	Day      int    `json:"day"`
	Slot     int    `json:"slot,omitempty"`
}

// PreferenceViolation is a lesson outside the teacher's preferred slots.
type PreferenceViolation struct {
	LessonID  int64 `json:"lesson_id"`
	TeacherID int64 `json:"teacher_id"`
	Priority  int   `json:"priority"`
	Day       int   `json:"day"`
	Slot      int   `json:"slot"`
	Penalty   int   `json:"penalty"`
}

// IsolatedLesson is a teacher's only lesson of a day.
type IsolatedLesson struct {
	LessonID  int64 `json:"lesson_id"`
	TeacherID int64 `json:"teacher_id"`
	Day       int   `json:"day"`
	Slot      int   `json:"slot"`
}

// Gap is a run of empty slots between two lessons of one entity on one day.
type Gap struct {
	Kind          string `json:"kind"`
	EntityID      int64  `json:"entity_id"`
	Day           int    `json:"day"`
	After         int    `json:"after_slot"`
	Before        int    `json:"before_slot"`
	Length        int    `json:"length"`
	Penalty       int    `json:"penalty"`
	LaterLessonID int64  `json:"later_lesson_id"`
}

// Report is the scored breakdown of a schedule.
type Report struct {
	TotalScore           int                   `json:"total_score"`
	HardScore            int                   `json:"hard_score"`
	PreferenceScore      int                   `json:"preference_score"`
	IsolatedScore        int                   `json:"isolated_score"`
	GapScore             int                   `json:"gap_score"`
	AuxiliaryScore       int                   `json:"auxiliary_score"`
	Conflicts            []Conflict            `json:"conflicts"`
	HardViolations       []HardViolation       `json:"hard_violations"`
	PreferenceViolations []PreferenceViolation `json:"preference_violations"`
	IsolatedLessons      []IsolatedLesson      `json:"isolated_lessons"`
	Gaps                 []Gap                 `json:"gaps"`
}

// Feasible reports whether no hard constraint is broken.
func (r Report) Feasible() bool {
	return len(r.Conflicts) == 0 && len(r.HardViolations) == 0
}

// HardCount is the number of hard penalties charged.
func (r Report) HardCount() int {
	count := len(r.HardViolations)
	for _, conflict := range r.Conflicts {
		count += len(conflict.LessonIDs) - 1
	}
	return count
}

// GapsCount is the number of gaps found for teachers and groups.
func (r Report) GapsCount() int {
	return len(r.Gaps)
}

// ConflictsByKind groups conflicts by teacher, group and classroom.
func (r Report) ConflictsByKind() map[string][]Conflict {
	return lo.GroupBy(r.Conflicts, func(c Conflict) string { return c.Kind })
}

// Involvement counts how many violations every lesson takes part in.
func (r Report) Involvement() map[int64]int {
	counts := make(map[int64]int)
	for _, conflict := range r.Conflicts {
		for _, id := range conflict.LessonIDs {
			counts[id] += 3
		}
	}
	for _, violation := range r.HardViolations {
		if violation.LessonID != 0 {
			counts[violation.LessonID] += 3
		}
	}
	for _, violation := range r.PreferenceViolations {
		counts[violation.LessonID] += 2
	}
	for _, isolated := range r.IsolatedLessons {
		counts[isolated.LessonID]++
	}
	for _, gap := range r.Gaps {
		counts[gap.LaterLessonID]++
	}
	return counts
}

type teacherPreferences struct {
	records   int
	preferred map[SlotKey]bool
	vetoed    map[SlotKey]bool
}

// PreferenceIndex groups preference records by teacher.
type PreferenceIndex struct {
	teachers map[int64]*teacherPreferences
}

// NewPreferenceIndex indexes preference rows. Rows outside the week are ignored.
func NewPreferenceIndex(records []models.TeacherPreference) PreferenceIndex {
	idx := PreferenceIndex{teachers: make(map[int64]*teacherPreferences)}
	for _, record := range records {
		if record.DayOfWeek < 1 || record.DayOfWeek > MaxDays || record.TimeSlot < 1 {
			continue
		}
		entry := idx.teachers[record.TeacherID]
		if entry == nil {
			entry = &teacherPreferences{preferred: map[SlotKey]bool{}, vetoed: map[SlotKey]bool{}}
			idx.teachers[record.TeacherID] = entry
		}
		entry.records++
		key := SlotKey{Day: record.DayOfWeek, Slot: record.TimeSlot}
		if record.IsPreferred {
			entry.preferred[key] = true
		}
		if record.Veto() {
			entry.vetoed[key] = true
		}
	}
	return idx
}

// HasRecords reports whether the teacher expressed any preference at all.
func (p PreferenceIndex) HasRecords(teacherID int64) bool {
	entry := p.teachers[teacherID]
	return entry != nil && entry.records > 0
}

// Preferred reports whether the teacher marked key as preferred.
func (p PreferenceIndex) Preferred(teacherID int64, key SlotKey) bool {
	entry := p.teachers[teacherID]
	return entry != nil && entry.preferred[key]
}

// Vetoed reports whether the teacher is unavailable at key.
func (p PreferenceIndex) Vetoed(teacherID int64, key SlotKey) bool {
	entry := p.teachers[teacherID]
	return entry != nil && entry.vetoed[key]
}

// PreferredSlots returns the teacher's preferred slots in lexicographic order.
func (p PreferenceIndex) PreferredSlots(teacherID int64) []SlotKey {
	entry := p.teachers[teacherID]
	if entry == nil {
		return nil
	}
	keys := lo.Keys(entry.preferred)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Evaluator scores schedules. It is safe for concurrent use.
type Evaluator struct {
	grid    Grid
	variant Variant
	prefs   PreferenceIndex
	rooms   map[int64]models.Classroom
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithVariant selects the penalty set.
func WithVariant(variant Variant) EvaluatorOption {
	return func(e *Evaluator) { e.variant = variant }
}

// NewEvaluator builds an evaluator over the given preferences and classrooms.
func NewEvaluator(grid Grid, prefs []models.TeacherPreference, classrooms []models.Classroom, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		grid:  grid,
		prefs: NewPreferenceIndex(prefs),
		rooms: lo.Associate(classrooms, func(room models.Classroom) (int64, models.Classroom) { return room.ID, room }),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grid returns the grid the evaluator was built for.
func (e *Evaluator) Grid() Grid { return e.grid }

// Variant returns the configured penalty set.
func (e *Evaluator) Variant() Variant { return e.variant }

// Preferences exposes the indexed teacher preferences.
func (e *Evaluator) Preferences() PreferenceIndex { return e.prefs }

// Classroom looks up a classroom known to the evaluator.
func (e *Evaluator) Classroom(id int64) (models.Classroom, bool) {
	room, ok := e.rooms[id]
	return room, ok
}

// Evaluate scores the schedule. Lessons are visited in (day, slot, id) order
// so identical inputs yield identical reports.
func (e *Evaluator) Evaluate(lessons []models.ScheduleEntry) Report {
	ordered := append([]models.ScheduleEntry(nil), lessons...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		return a.ID < b.ID
	})

	report := Report{
		Conflicts:            []Conflict{},
		HardViolations:       []HardViolation{},
		PreferenceViolations: []PreferenceViolation{},
		IsolatedLessons:      []IsolatedLesson{},
		Gaps:                 []Gap{},
	}

	e.scoreHard(ordered, &report)
	e.scorePreferences(ordered, &report)
	teacherDays := groupByDay(ordered, func(l models.ScheduleEntry) int64 { return l.TeacherID })
	groupDays := groupByDay(ordered, func(l models.ScheduleEntry) int64 { return l.GroupID })
	e.scoreIsolated(teacherDays, &report)
	e.scoreGaps(KindTeacher, teacherDays, &report)
	e.scoreGaps(KindGroup, groupDays, &report)
	if e.variant == VariantEvolutionary {
		report.AuxiliaryScore = e.auxiliary(ordered, teacherDays, groupDays)
	}

	report.TotalScore = report.HardScore + report.PreferenceScore + report.IsolatedScore + report.GapScore + report.AuxiliaryScore
	return report
}

// Score is a shortcut for Evaluate(lessons).TotalScore.
func (e *Evaluator) Score(lessons []models.ScheduleEntry) int {
	return e.Evaluate(lessons).TotalScore
}

func (e *Evaluator) scoreHard(ordered []models.ScheduleEntry, report *Report) {
	type cell struct {
		kind string
		key  SlotKey
		id   int64
	}
	occupants := make(map[cell][]int64)
	cells := make([]cell, 0, len(ordered)*3)
	track := func(c cell, lessonID int64) {
		if _, seen := occupants[c]; !seen {
			cells = append(cells, c)
		}
		occupants[c] = append(occupants[c], lessonID)
	}

	teacherLoad := make(map[entityDay]int)
	groupLoad := make(map[entityDay]int)

	for _, lesson := range ordered {
		key := KeyOf(lesson)
		track(cell{kind: KindTeacher, key: key, id: lesson.TeacherID}, lesson.ID)
		track(cell{kind: KindGroup, key: key, id: lesson.GroupID}, lesson.ID)
		if lesson.ClassroomID != nil {
			track(cell{kind: KindClassroom, key: key, id: *lesson.ClassroomID}, lesson.ID)
			if room, ok := e.rooms[*lesson.ClassroomID]; ok {
				if room.Capacity < lesson.GroupSize {
					report.HardViolations = append(report.HardViolations, HardViolation{Kind: ViolationCapacity, LessonID: lesson.ID, EntityID: room.ID, Day: key.Day, Slot: key.Slot})
				}
				if CanonicalLessonKind(lesson.LessonType) == models.LessonTypeLab && CanonicalLessonKind(room.ClassroomType) != models.LessonTypeLab {
					report.HardViolations = append(report.HardViolations, HardViolation{Kind: ViolationRoomType, LessonID: lesson.ID, EntityID: room.ID, Day: key.Day, Slot: key.Slot})
				}
			}
		}
		if e.prefs.Vetoed(lesson.TeacherID, key) {
			report.HardViolations = append(report.HardViolations, HardViolation{Kind: ViolationVeto, LessonID: lesson.ID, EntityID: lesson.TeacherID, Day: key.Day, Slot: key.Slot})
		}
		teacherLoad[entityDay{ID: lesson.TeacherID, Day: key.Day}]++
		groupLoad[entityDay{ID: lesson.GroupID, Day: key.Day}]++
	}

	for _, c := range cells {
		ids := occupants[c]
		if len(ids) < 2 {
			continue
		}
		report.Conflicts = append(report.Conflicts, Conflict{Kind: c.kind, EntityID: c.id, Day: c.key.Day, Slot: c.key.Slot, LessonIDs: ids})
	}

	report.HardViolations = append(report.HardViolations, dailyCapViolations(ViolationTeacherDayCap, teacherLoad)...)
	report.HardViolations = append(report.HardViolations, dailyCapViolations(ViolationGroupDayCap, groupLoad)...)
	report.HardScore = report.HardCount() * HardPenalty
}

func dailyCapViolations(kind string, load map[entityDay]int) []HardViolation {
	var violations []HardViolation
	for key, count := range load {
		if count > DailyLessonCap {
			violations = append(violations, HardViolation{Kind: kind, EntityID: key.ID, Day: key.Day})
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].EntityID != violations[j].EntityID {
			return violations[i].EntityID < violations[j].EntityID
		}
		return violations[i].Day < violations[j].Day
	})
	return violations
}

func (e *Evaluator) scorePreferences(ordered []models.ScheduleEntry, report *Report) {
	for _, lesson := range ordered {
		if !e.prefs.HasRecords(lesson.TeacherID) {
			continue
		}
		key := KeyOf(lesson)
		if e.prefs.Preferred(lesson.TeacherID, key) {
			continue
		}
		priority := normalizePriority(lesson.TeacherPriority)
		penalty := PriorityPenalty(priority)
		report.PreferenceViolations = append(report.PreferenceViolations, PreferenceViolation{
			LessonID:  lesson.ID,
			TeacherID: lesson.TeacherID,
			Priority:  priority,
			Day:       key.Day,
			Slot:      key.Slot,
			Penalty:   penalty,
		})
		report.PreferenceScore += penalty
	}
}

type dayLessons struct {
	key     entityDay
	lessons []models.ScheduleEntry
}

// groupByDay buckets lessons per (entity, day) and returns the buckets sorted
// by entity then day; lessons inside a bucket keep (slot, id) order.
func groupByDay(ordered []models.ScheduleEntry, entity func(models.ScheduleEntry) int64) []dayLessons {
	buckets := make(map[entityDay][]models.ScheduleEntry)
	for _, lesson := range ordered {
		key := entityDay{ID: entity(lesson), Day: lesson.DayOfWeek}
		buckets[key] = append(buckets[key], lesson)
	}
	result := make([]dayLessons, 0, len(buckets))
	for key, lessons := range buckets {
		result = append(result, dayLessons{key: key, lessons: lessons})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].key.ID != result[j].key.ID {
			return result[i].key.ID < result[j].key.ID
		}
		return result[i].key.Day < result[j].key.Day
	})
	return result
}

func (e *Evaluator) scoreIsolated(teacherDays []dayLessons, report *Report) {
	for _, bucket := range teacherDays {
		if len(bucket.lessons) != 1 {
			continue
		}
		lesson := bucket.lessons[0]
		report.IsolatedLessons = append(report.IsolatedLessons, IsolatedLesson{
			LessonID:  lesson.ID,
			TeacherID: lesson.TeacherID,
			Day:       lesson.DayOfWeek,
			Slot:      lesson.TimeSlot,
		})
		report.IsolatedScore += IsolatedPenalty
	}
}

func (e *Evaluator) scoreGaps(kind string, buckets []dayLessons, report *Report) {
	for _, bucket := range buckets {
		for i := 0; i+1 < len(bucket.lessons); i++ {
			current, next := bucket.lessons[i], bucket.lessons[i+1]
			length := next.TimeSlot - current.TimeSlot - 1
			if length <= 0 {
				continue
			}
			penalty := GapPenalty(length)
			if e.variant == VariantEvolutionary {
				penalty = flatGapPenalty * length
			}
			report.Gaps = append(report.Gaps, Gap{
				Kind:          kind,
				EntityID:      bucket.key.ID,
				Day:           bucket.key.Day,
				After:         current.TimeSlot,
				Before:        next.TimeSlot,
				Length:        length,
				Penalty:       penalty,
				LaterLessonID: next.ID,
			})
			report.GapScore += penalty
		}
	}
}

func (e *Evaluator) auxiliary(ordered []models.ScheduleEntry, teacherDays, groupDays []dayLessons) int {
	score := 0
	roomUsage := make(map[int64]int)
	for _, lesson := range ordered {
		if lesson.TimeSlot == 1 {
			score += edgeSlotPenalty
		}
		if lesson.TimeSlot == e.grid.Slots {
			score += edgeSlotPenalty
		}
		if lesson.ClassroomID != nil {
			roomUsage[*lesson.ClassroomID]++
		}
	}

	for _, bucket := range groupDays {
		for i := 0; i+1 < len(bucket.lessons); i++ {
			if gap := bucket.lessons[i+1].TimeSlot - bucket.lessons[i].TimeSlot - 1; gap > 1 {
				score += scatteredDayPenalty * gap
			}
		}
	}

	perTeacher := make(map[int64][]int)
	for _, bucket := range teacherDays {
		perTeacher[bucket.key.ID] = append(perTeacher[bucket.key.ID], len(bucket.lessons))
		rooms := lo.Uniq(lo.FilterMap(bucket.lessons, func(l models.ScheduleEntry, _ int) (int64, bool) {
			if l.ClassroomID == nil {
				return 0, false
			}
			return *l.ClassroomID, true
		}))
		if len(rooms) > 1 {
			score += roomChangePenalty * (len(rooms) - 1)
		}
	}
	for _, counts := range perTeacher {
		if spread := lo.Max(counts) - lo.Min(counts); spread > 2 {
			score += unevenLoadPenalty * (spread - 2)
		}
	}

	for _, used := range roomUsage {
		if used*10 < e.grid.Cells() {
			score += lowUtilizationPenalty
		}
	}
	return score
}

func normalizePriority(priority int) int {
	if priority < 1 || priority > 4 {
		return 4
	}
	return priority
}
