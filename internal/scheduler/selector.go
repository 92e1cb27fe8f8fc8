package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/mroth/weightedrand/v2"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// ErrNoProposal is returned when a selector has nothing left to try.
var ErrNoProposal = errors.New("no move to propose")

// Proposal targets.
const (
	TargetPreference = "preference_violation"
	TargetGap        = "gap"
	TargetIsolated   = "isolated_lesson"
	TargetRandom     = "random"
	TargetAdvisor    = "advisor"
)

// Proposal is a move the optimizer should try next.
type Proposal struct {
	Kind      string `json:"kind"`
	LessonID  int64  `json:"lesson_id"`
	OtherID   int64  `json:"other_id,omitempty"`
	Day       int    `json:"day,omitempty"`
	Slot      int    `json:"slot,omitempty"`
	Target    string `json:"target"`
	Reasoning string `json:"reasoning"`
}

func (p Proposal) signature() string {
	return fmt.Sprintf("%s:%d:%d:%d:%d", p.Kind, p.LessonID, p.OtherID, p.Day, p.Slot)
}

// Apply executes the proposal against the workspace.
func (p Proposal) Apply(ws *Workspace) (MoveOutcome, error) {
	switch p.Kind {
	case models.ActionSwapLessons:
		return ws.Swap(p.LessonID, p.OtherID)
	case models.ActionMoveToEmptySlot:
		return ws.MoveTo(p.LessonID, p.Day, p.Slot)
	default:
		return MoveOutcome{}, fmt.Errorf("unsupported move %q", p.Kind)
	}
}

// MoveSelector chooses the next move for the local-search loop.
type MoveSelector interface {
	Propose(ctx context.Context, ws *Workspace) (Proposal, error)
}

// MoveObserver is notified about the fate of every proposal.
type MoveObserver interface {
	Observe(p Proposal, accepted bool)
}

// RulesetSelector is the deterministic-first move policy: fix the worst
// preference violation, then the longest gap, then an isolated lesson, and
// only then try a weighted random move.
type RulesetSelector struct {
	rng   *rand.Rand
	tried map[string]bool
}

// NewRulesetSelector builds a ruleset selector drawing randomness from rng.
func NewRulesetSelector(rng *rand.Rand) *RulesetSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RulesetSelector{rng: rng, tried: make(map[string]bool)}
}

// Observe forgets rejected history after an accepted move and remembers rejected proposals.
func (s *RulesetSelector) Observe(p Proposal, accepted bool) {
	if accepted {
		s.tried = make(map[string]bool)
		return
	}
	s.tried[p.signature()] = true
}

// Propose implements MoveSelector.
func (s *RulesetSelector) Propose(_ context.Context, ws *Workspace) (Proposal, error) {
	report := ws.Report()
	if p, ok := s.fixPreference(ws, report); ok {
		return p, nil
	}
	if p, ok := s.closeGap(ws, report); ok {
		return p, nil
	}
	if p, ok := s.joinIsolated(ws, report); ok {
		return p, nil
	}
	if p, ok := s.random(ws, report); ok {
		return p, nil
	}
	return Proposal{}, ErrNoProposal
}

func (s *RulesetSelector) fresh(p Proposal) bool {
	return !s.tried[p.signature()]
}

func (s *RulesetSelector) fixPreference(ws *Workspace, report Report) (Proposal, bool) {
	violations := append([]PreferenceViolation(nil), report.PreferenceViolations...)
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Priority != violations[j].Priority {
			return violations[i].Priority < violations[j].Priority
		}
		return violations[i].LessonID < violations[j].LessonID
	})
	prefs := ws.Evaluator().Preferences()
	for _, violation := range violations {
		lesson, ok := ws.Lesson(violation.LessonID)
		if !ok {
			continue
		}
		for _, key := range prefs.PreferredSlots(lesson.TeacherID) {
			if ws.CanPlace(lesson, key) {
				p := Proposal{
					Kind:      models.ActionMoveToEmptySlot,
					LessonID:  lesson.ID,
					Day:       key.Day,
					Slot:      key.Slot,
					Target:    TargetPreference,
					Reasoning: fmt.Sprintf("teacher %d (priority %d) prefers day %d slot %d", lesson.TeacherID, violation.Priority, key.Day, key.Slot),
				}
				if s.fresh(p) {
					return p, true
				}
				continue
			}
			for _, occupant := range ws.Occupants(key) {
				if occupant.TeacherID != lesson.TeacherID && occupant.GroupID != lesson.GroupID {
					continue
				}
				p := Proposal{
					Kind:      models.ActionSwapLessons,
					LessonID:  lesson.ID,
					OtherID:   occupant.ID,
					Target:    TargetPreference,
					Reasoning: fmt.Sprintf("swap into preferred day %d slot %d of teacher %d", key.Day, key.Slot, lesson.TeacherID),
				}
				if s.fresh(p) {
					return p, true
				}
			}
		}
	}
	return Proposal{}, false
}

func (s *RulesetSelector) closeGap(ws *Workspace, report Report) (Proposal, bool) {
	gaps := append([]Gap(nil), report.Gaps...)
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Length > gaps[j].Length })
	for _, gap := range gaps {
		lesson, ok := ws.Lesson(gap.LaterLessonID)
		if !ok {
			continue
		}
		target := SlotKey{Day: gap.Day, Slot: gap.After + 1}
		if !ws.CanPlace(lesson, target) {
			continue
		}
		p := Proposal{
			Kind:      models.ActionMoveToEmptySlot,
			LessonID:  lesson.ID,
			Day:       target.Day,
			Slot:      target.Slot,
			Target:    TargetGap,
			Reasoning: fmt.Sprintf("close %d-slot %s gap on day %d", gap.Length, gap.Kind, gap.Day),
		}
		if s.fresh(p) {
			return p, true
		}
	}
	return Proposal{}, false
}

func (s *RulesetSelector) joinIsolated(ws *Workspace, report Report) (Proposal, bool) {
	grid := ws.Grid()
	for _, isolated := range report.IsolatedLessons {
		lesson, ok := ws.Lesson(isolated.LessonID)
		if !ok {
			continue
		}
		for day := 1; day <= grid.Days; day++ {
			if day == isolated.Day {
				continue
			}
			slots := ws.TeacherSlots(lesson.TeacherID, day)
			if len(slots) == 0 {
				continue
			}
			for _, slot := range []int{slots[len(slots)-1] + 1, slots[0] - 1} {
				target := SlotKey{Day: day, Slot: slot}
				if !ws.CanPlace(lesson, target) {
					continue
				}
				p := Proposal{
					Kind:      models.ActionMoveToEmptySlot,
					LessonID:  lesson.ID,
					Day:       day,
					Slot:      slot,
					Target:    TargetIsolated,
					Reasoning: fmt.Sprintf("join isolated lesson of teacher %d with day %d", lesson.TeacherID, day),
				}
				if s.fresh(p) {
					return p, true
				}
			}
		}
	}
	return Proposal{}, false
}

const randomAttempts = 32

// random picks a lesson weighted by how many violations it takes part in and
// moves it to a random placeable slot.
func (s *RulesetSelector) random(ws *Workspace, report Report) (Proposal, bool) {
	lessons := ws.Lessons()
	if len(lessons) == 0 {
		return Proposal{}, false
	}
	involvement := report.Involvement()
	choices := make([]weightedrand.Choice[int64, int], 0, len(lessons))
	for _, lesson := range lessons {
		choices = append(choices, weightedrand.NewChoice(lesson.ID, involvement[lesson.ID]+1))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return Proposal{}, false
	}
	grid := ws.Grid()
	for attempt := 0; attempt < randomAttempts; attempt++ {
		lesson, _ := ws.Lesson(chooser.PickSource(s.rng))
		target := SlotKey{Day: s.rng.Intn(grid.Days) + 1, Slot: s.rng.Intn(grid.Slots) + 1}
		if !ws.CanPlace(lesson, target) {
			continue
		}
		p := Proposal{
			Kind:      models.ActionMoveToEmptySlot,
			LessonID:  lesson.ID,
			Day:       target.Day,
			Slot:      target.Slot,
			Target:    TargetRandom,
			Reasoning: fmt.Sprintf("explore day %d slot %d for lesson %d", target.Day, target.Slot, lesson.ID),
		}
		if s.fresh(p) {
			return p, true
		}
	}
	return Proposal{}, false
}

// Advisor is an external move source, for example a language-model agent.
type Advisor interface {
	Advise(ctx context.Context, lessons []models.ScheduleEntry, report Report) (Proposal, error)
}

// AdvisorSelector asks an Advisor first and falls back to another selector
// when the advisor fails or proposes something the workspace cannot apply.
type AdvisorSelector struct {
	advisor  Advisor
	fallback MoveSelector
}

// NewAdvisorSelector wraps advisor with a fallback selector.
func NewAdvisorSelector(advisor Advisor, fallback MoveSelector) *AdvisorSelector {
	return &AdvisorSelector{advisor: advisor, fallback: fallback}
}

// Propose implements MoveSelector.
func (s *AdvisorSelector) Propose(ctx context.Context, ws *Workspace) (Proposal, error) {
	if s.advisor != nil {
		p, err := s.advisor.Advise(ctx, ws.Lessons(), ws.Report())
		if err == nil && validProposal(ws, p) {
			if p.Target == "" {
				p.Target = TargetAdvisor
			}
			return p, nil
		}
	}
	if s.fallback == nil {
		return Proposal{}, ErrNoProposal
	}
	return s.fallback.Propose(ctx, ws)
}

// Observe forwards feedback to the fallback selector.
func (s *AdvisorSelector) Observe(p Proposal, accepted bool) {
	if observer, ok := s.fallback.(MoveObserver); ok {
		observer.Observe(p, accepted)
	}
}

func validProposal(ws *Workspace, p Proposal) bool {
	if _, ok := ws.Lesson(p.LessonID); !ok {
		return false
	}
	switch p.Kind {
	case models.ActionSwapLessons:
		_, ok := ws.Lesson(p.OtherID)
		return ok && p.OtherID != p.LessonID
	case models.ActionMoveToEmptySlot:
		return ws.Grid().Validate(p.Day, p.Slot) == nil
	default:
		return false
	}
}
