package scheduler

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// MaxCheckpoints bounds the rollback stack; the oldest checkpoint is dropped when full.
const MaxCheckpoints = 10

// OutcomeKind classifies the result of a move.
type OutcomeKind string

const (
	// OutcomeCommitted means the move was applied and kept the schedule feasible.
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeRejected means the move was refused before touching the schedule.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeInfeasible means the move was applied, broke a hard constraint and was rolled back.
	OutcomeInfeasible OutcomeKind = "infeasible"
)

// MoveOutcome describes what a move did to the workspace.
type MoveOutcome struct {
	Kind        OutcomeKind `json:"kind"`
	ScoreBefore int         `json:"score_before"`
	ScoreAfter  int         `json:"score_after"`
	Delta       int         `json:"delta"`
	Reason      string      `json:"reason,omitempty"`
}

// Improved reports whether a committed move raised the score.
func (o MoveOutcome) Improved() bool {
	return o.Kind == OutcomeCommitted && o.Delta > 0
}

// placement is the mutable part of a lesson.
type placement struct {
	lessonID      int64
	day           int
	slot          int
	classroomID   *int64
	classroomName *string
}

type checkpoint struct {
	score   int
	changes []placement
}

// Workspace owns one in-memory schedule, its constraint index and its
// checkpoint stack. It is not safe for concurrent use.
type Workspace struct {
	grid        Grid
	evaluator   *Evaluator
	rooms       []models.Classroom
	lessons     []models.ScheduleEntry
	position    map[int64]int
	index       *Index
	report      Report
	checkpoints []checkpoint
	logger      *zap.Logger
}

// NewWorkspace copies lessons into a new workspace and scores them.
func NewWorkspace(lessons []models.ScheduleEntry, evaluator *Evaluator, classrooms []models.Classroom, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &Workspace{
		grid:      evaluator.Grid(),
		evaluator: evaluator,
		rooms:     activeRooms(classrooms),
		lessons:   append([]models.ScheduleEntry(nil), lessons...),
		position:  make(map[int64]int, len(lessons)),
		index:     NewIndex(evaluator.Grid(), false, logger),
		logger:    logger,
	}
	for i, lesson := range ws.lessons {
		ws.position[lesson.ID] = i
		ws.index.insert(KeyOf(lesson), lesson)
	}
	ws.report = evaluator.Evaluate(ws.lessons)
	return ws
}

// Lessons returns a copy of the current schedule.
func (w *Workspace) Lessons() []models.ScheduleEntry {
	return append([]models.ScheduleEntry(nil), w.lessons...)
}

// Lesson returns the lesson with id.
func (w *Workspace) Lesson(id int64) (models.ScheduleEntry, bool) {
	pos, ok := w.position[id]
	if !ok {
		return models.ScheduleEntry{}, false
	}
	return w.lessons[pos], true
}

// Report returns the latest fitness report.
func (w *Workspace) Report() Report { return w.report }

// Score returns the latest total score.
func (w *Workspace) Score() int { return w.report.TotalScore }

// Depth is the number of checkpoints on the stack.
func (w *Workspace) Depth() int { return len(w.checkpoints) }

// Grid returns the workspace grid.
func (w *Workspace) Grid() Grid { return w.grid }

// Evaluator returns the evaluator scoring this workspace.
func (w *Workspace) Evaluator() *Evaluator { return w.evaluator }

// Occupants returns the lessons sitting at key, ordered by id.
func (w *Workspace) Occupants(key SlotKey) []models.ScheduleEntry {
	var result []models.ScheduleEntry
	for _, lesson := range w.lessons {
		if KeyOf(lesson) == key {
			result = append(result, lesson)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// CanPlace reports whether lesson could move to key without double-booking its
// teacher or group, exceeding the daily cap or hitting a veto.
func (w *Workspace) CanPlace(lesson models.ScheduleEntry, key SlotKey) bool {
	if !w.grid.Contains(key.Day, key.Slot) || KeyOf(lesson) == key {
		return false
	}
	if w.index.TeacherBusy(key, lesson.TeacherID) || w.index.GroupBusy(key, lesson.GroupID) {
		return false
	}
	if w.evaluator.Preferences().Vetoed(lesson.TeacherID, key) {
		return false
	}
	if lesson.DayOfWeek != key.Day {
		if w.index.TeacherDayCount(lesson.TeacherID, key.Day) >= DailyLessonCap ||
			w.index.GroupDayCount(lesson.GroupID, key.Day) >= DailyLessonCap {
			return false
		}
	}
	return true
}

// TeacherSlots returns the teacher's occupied slots on day.
func (w *Workspace) TeacherSlots(teacherID int64, day int) []int {
	return w.index.TeacherSlots(teacherID, day)
}

// Swap exchanges the (day, slot) of two lessons. Classrooms travel with their lessons.
func (w *Workspace) Swap(aID, bID int64) (MoveOutcome, error) {
	a, okA := w.Lesson(aID)
	b, okB := w.Lesson(bID)
	if !okA || !okB {
		return MoveOutcome{}, ErrUnknownLesson
	}
	before := w.report.TotalScore
	if aID == bID || KeyOf(a) == KeyOf(b) {
		return w.rejected(before, "lessons share the same slot"), nil
	}

	keyA, keyB := KeyOf(a), KeyOf(b)
	w.index.Release(a)
	w.index.Release(b)
	clash := w.index.HasConflict(keyB, a.TeacherID, a.GroupID, a.ClassroomID) ||
		w.index.HasConflict(keyA, b.TeacherID, b.GroupID, b.ClassroomID)
	w.index.insert(keyA, a)
	w.index.insert(keyB, b)
	if clash {
		return w.rejected(before, "swap would double-book a teacher, group or classroom"), nil
	}

	w.push()
	w.relocate(aID, keyB, a.ClassroomID, a.ClassroomName, true)
	w.relocate(bID, keyA, b.ClassroomID, b.ClassroomName, true)
	return w.settle(before, fmt.Sprintf("swapped lesson %d and lesson %d", aID, bID))
}

// MoveTo relocates a lesson to (day, slot). The lesson keeps its classroom when
// it is free at the target, otherwise a compatible free classroom is chosen or
// the classroom is detached.
func (w *Workspace) MoveTo(lessonID int64, day, slot int) (MoveOutcome, error) {
	if err := w.grid.Validate(day, slot); err != nil {
		return MoveOutcome{}, err
	}
	lesson, ok := w.Lesson(lessonID)
	if !ok {
		return MoveOutcome{}, ErrUnknownLesson
	}
	before := w.report.TotalScore
	target := SlotKey{Day: day, Slot: slot}
	if KeyOf(lesson) == target {
		return w.rejected(before, "lesson already occupies the target slot"), nil
	}
	if w.index.TeacherBusy(target, lesson.TeacherID) || w.index.GroupBusy(target, lesson.GroupID) {
		return w.rejected(before, "target slot double-books the teacher or group"), nil
	}

	roomID, roomName := lesson.ClassroomID, lesson.ClassroomName
	if roomID == nil || !w.index.RoomFree(target, *roomID) {
		roomID, roomName = nil, nil
		for _, room := range w.rooms {
			if compatibleRoom(room, lesson.GroupSize, CanonicalLessonKind(lesson.LessonType)) && w.index.RoomFree(target, room.ID) {
				id, name := room.ID, room.Name
				roomID, roomName = &id, &name
				break
			}
		}
	}

	w.push()
	w.relocate(lessonID, target, roomID, roomName, true)
	return w.settle(before, fmt.Sprintf("moved lesson %d to day %d slot %d", lessonID, day, slot))
}

// Rollback restores the schedule recorded by the most recent checkpoint.
func (w *Workspace) Rollback() error {
	if len(w.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	top := w.checkpoints[len(w.checkpoints)-1]
	w.checkpoints = w.checkpoints[:len(w.checkpoints)-1]
	for i := len(top.changes) - 1; i >= 0; i-- {
		change := top.changes[i]
		w.relocate(change.lessonID, SlotKey{Day: change.day, Slot: change.slot}, change.classroomID, change.classroomName, false)
	}
	w.report = w.evaluator.Evaluate(w.lessons)
	if w.report.TotalScore != top.score {
		w.logger.Warn("rollback score mismatch", zap.Int("expected", top.score), zap.Int("actual", w.report.TotalScore))
	}
	return nil
}

// push opens a new checkpoint at the current score. Changes are appended by relocate.
func (w *Workspace) push() {
	if len(w.checkpoints) == MaxCheckpoints {
		w.checkpoints = append(w.checkpoints[:0], w.checkpoints[1:]...)
	}
	w.checkpoints = append(w.checkpoints, checkpoint{score: w.report.TotalScore})
}

// relocate moves a lesson. With record set, the previous placement is appended
// to the open checkpoint.
func (w *Workspace) relocate(lessonID int64, target SlotKey, roomID *int64, roomName *string, record bool) {
	pos := w.position[lessonID]
	lesson := w.lessons[pos]
	if n := len(w.checkpoints); record && n > 0 {
		w.checkpoints[n-1].changes = append(w.checkpoints[n-1].changes, placement{
			lessonID:      lessonID,
			day:           lesson.DayOfWeek,
			slot:          lesson.TimeSlot,
			classroomID:   lesson.ClassroomID,
			classroomName: lesson.ClassroomName,
		})
	}
	w.index.Release(lesson)
	lesson.DayOfWeek = target.Day
	lesson.TimeSlot = target.Slot
	lesson.ClassroomID = roomID
	lesson.ClassroomName = roomName
	w.lessons[pos] = lesson
	w.index.insert(target, lesson)
}

// settle re-scores after a mutation and rolls back when hard constraints got worse.
func (w *Workspace) settle(before int, reason string) (MoveOutcome, error) {
	previous := w.report
	w.report = w.evaluator.Evaluate(w.lessons)
	outcome := MoveOutcome{
		Kind:        OutcomeCommitted,
		ScoreBefore: before,
		ScoreAfter:  w.report.TotalScore,
		Delta:       w.report.TotalScore - before,
		Reason:      reason,
	}
	if w.report.HardCount() > previous.HardCount() {
		if err := w.Rollback(); err != nil {
			return MoveOutcome{}, err
		}
		w.logger.Debug("move broke a hard constraint", zap.String("reason", reason))
		return MoveOutcome{
			Kind:        OutcomeInfeasible,
			ScoreBefore: before,
			ScoreAfter:  before,
			Reason:      reason + ": introduces hard constraint violations",
		}, nil
	}
	w.logger.Debug("move applied", zap.String("reason", reason), zap.Int("delta", outcome.Delta))
	return outcome, nil
}

func (w *Workspace) rejected(score int, reason string) MoveOutcome {
	return MoveOutcome{Kind: OutcomeRejected, ScoreBefore: score, ScoreAfter: score, Reason: reason}
}
