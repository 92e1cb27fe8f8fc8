package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/mroth/weightedrand/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// EvolutionConfig tunes the evolutionary optimizer.
type EvolutionConfig struct {
	Generations      int
	PopulationSize   int
	EliteSize        int
	TournamentSize   int
	MutationRate     float64
	MutationFraction float64
	RefineEvery      int
	RefineTop        int
	RefineIterations int
	Rand             *rand.Rand
	Logger           *zap.Logger
}

func (c *EvolutionConfig) setDefaults() {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 50
	}
	if c.EliteSize <= 0 {
		c.EliteSize = 10
	}
	if c.EliteSize > c.PopulationSize {
		c.EliteSize = c.PopulationSize
	}
	if c.TournamentSize <= 0 {
		c.TournamentSize = 3
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 0.1
	}
	if c.MutationFraction <= 0 {
		c.MutationFraction = 0.05
	}
	if c.RefineEvery <= 0 {
		c.RefineEvery = 10
	}
	if c.RefineTop <= 0 {
		c.RefineTop = 3
	}
	if c.RefineIterations <= 0 {
		c.RefineIterations = 5
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Candidate is one member of the population.
type Candidate struct {
	Lessons []models.ScheduleEntry
	Report  Report
}

// Score is the candidate's total fitness.
func (c Candidate) Score() int { return c.Report.TotalScore }

// GenerationRecord summarises one evolutionary generation.
type GenerationRecord struct {
	Generation int
	BestScore  int
	MeanScore  float64
	Valid      int
	Population int
	Elapsed    time.Duration
}

// EvolutionHooks mirror Hooks for the evolutionary loop.
type EvolutionHooks struct {
	OnGeneration func(ctx context.Context, record GenerationRecord) error
	ShouldStop   func(ctx context.Context) (bool, error)
}

// EvolutionResult summarises an evolutionary run.
type EvolutionResult struct {
	Generations  int
	InitialScore int
	BestScore    int
	Best         []models.ScheduleEntry
	Stopped      bool
}

// Evolution is a genetic optimizer with periodic local-search refinement.
type Evolution struct {
	cfg         EvolutionConfig
	evaluator   *Evaluator
	constructor *Constructor
	inputs      Inputs
	rooms       []models.Classroom
	rng         *rand.Rand
	logger      *zap.Logger
	required    map[int64]int
}

// NewEvolution builds an optimizer that seeds its population with constructor
// runs over inputs.
func NewEvolution(cfg EvolutionConfig, evaluator *Evaluator, constructor *Constructor, inputs Inputs) *Evolution {
	cfg.setDefaults()
	return &Evolution{
		cfg:         cfg,
		evaluator:   evaluator,
		constructor: constructor,
		inputs:      inputs,
		rooms:       activeRooms(inputs.Classrooms),
		rng:         cfg.Rand,
		logger:      cfg.Logger,
	}
}

// Run evolves the population for the configured number of generations and
// returns the best feasible candidate ever seen. Only candidates placing at
// least as many occurrences of every course load as the seed take part. When
// no such feasible candidate appears the seed is returned unchanged.
func (e *Evolution) Run(ctx context.Context, seed []models.ScheduleEntry, hooks EvolutionHooks) (EvolutionResult, error) {
	e.required = occurrences(seed)
	seedCandidate := e.candidate(seed)
	result := EvolutionResult{
		InitialScore: seedCandidate.Score(),
		BestScore:    seedCandidate.Score(),
		Best:         append([]models.ScheduleEntry(nil), seed...),
	}
	bestFeasible := seedCandidate.Report.Feasible()

	population := e.initialPopulation(seedCandidate)
	lastValid := population

	for generation := 1; generation <= e.cfg.Generations; generation++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if hooks.ShouldStop != nil {
			stop, err := hooks.ShouldStop(ctx)
			if err != nil {
				return result, err
			}
			if stop {
				result.Stopped = true
				break
			}
		}

		started := time.Now()
		population = e.nextGeneration(population)
		if len(population) == 0 {
			e.logger.Warn("population collapsed, reseeding", zap.Int("generation", generation))
			population = lastValid
		} else {
			lastValid = population
		}
		if generation%e.cfg.RefineEvery == 0 {
			population = e.refine(ctx, population)
		}
		sortCandidates(population)

		top := population[0]
		if top.Report.Feasible() && e.covers(top.Lessons) && (!bestFeasible || top.Score() > result.BestScore) {
			result.BestScore = top.Score()
			result.Best = append([]models.ScheduleEntry(nil), top.Lessons...)
			bestFeasible = true
		}
		result.Generations = generation

		record := GenerationRecord{
			Generation: generation,
			BestScore:  top.Score(),
			MeanScore:  meanScore(population),
			Valid:      countFeasible(population),
			Population: len(population),
			Elapsed:    time.Since(started),
		}
		e.logger.Debug("evolution generation",
			zap.Int("generation", generation),
			zap.Int("best", record.BestScore),
			zap.Float64("mean", record.MeanScore),
			zap.Int("valid", record.Valid),
		)
		if hooks.OnGeneration != nil {
			if err := hooks.OnGeneration(ctx, record); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (e *Evolution) candidate(lessons []models.ScheduleEntry) Candidate {
	return Candidate{Lessons: lessons, Report: e.evaluator.Evaluate(lessons)}
}

// occurrences counts placed lessons per course load.
func occurrences(lessons []models.ScheduleEntry) map[int64]int {
	counts := make(map[int64]int)
	for _, lesson := range lessons {
		counts[lesson.CourseLoadID]++
	}
	return counts
}

// covers reports whether lessons place every occurrence the seed placed.
func (e *Evolution) covers(lessons []models.ScheduleEntry) bool {
	counts := occurrences(lessons)
	for loadID, want := range e.required {
		if counts[loadID] < want {
			return false
		}
	}
	return true
}

// initialPopulation fills the population with constructor runs that place no
// fewer lessons than the seed. Shortfalls are replaced by seed copies.
func (e *Evolution) initialPopulation(seed Candidate) []Candidate {
	population := make([]Candidate, 0, e.cfg.PopulationSize)
	population = append(population, seed)
	for attempts := e.cfg.PopulationSize * 2; len(population) < e.cfg.PopulationSize && attempts > 0; attempts-- {
		built := e.constructor.Build(e.inputs)
		if !e.covers(built.Lessons) {
			continue
		}
		population = append(population, e.candidate(built.Lessons))
	}
	for len(population) < e.cfg.PopulationSize {
		population = append(population, seed)
	}
	sortCandidates(population)
	return population
}

// nextGeneration keeps the elite and breeds valid children until the
// population is full or the attempt budget is spent.
func (e *Evolution) nextGeneration(population []Candidate) []Candidate {
	sortCandidates(population)
	next := make([]Candidate, 0, e.cfg.PopulationSize)
	for _, c := range population[:min(e.cfg.EliteSize, len(population))] {
		if c.Report.Feasible() && e.covers(c.Lessons) {
			next = append(next, c)
		}
	}

	attempts := e.cfg.PopulationSize * 4
	for len(next) < e.cfg.PopulationSize && attempts > 0 {
		attempts--
		a := e.tournament(population)
		b := e.tournament(population)
		child := e.crossover(a.Lessons, b.Lessons)
		if e.rng.Float64() < e.cfg.MutationRate {
			child = e.mutate(child, e.evaluator.Evaluate(child))
		}
		repaired, ok := e.repair(child)
		if !ok {
			continue
		}
		if !e.covers(repaired) {
			continue
		}
		candidate := e.candidate(repaired)
		if !candidate.Report.Feasible() {
			continue
		}
		next = append(next, candidate)
	}
	return next
}

func (e *Evolution) tournament(population []Candidate) Candidate {
	best := population[e.rng.Intn(len(population))]
	for i := 1; i < e.cfg.TournamentSize; i++ {
		contender := population[e.rng.Intn(len(population))]
		if contender.Score() > best.Score() {
			best = contender
		}
	}
	return best
}

type geneKey struct {
	courseLoadID int64
	occurrence   int
}

// genes orders lessons by course load and numbers repeated occurrences so two
// schedules of the same loads can be aligned.
func genes(lessons []models.ScheduleEntry) ([]geneKey, map[geneKey]models.ScheduleEntry) {
	ordered := append([]models.ScheduleEntry(nil), lessons...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CourseLoadID != ordered[j].CourseLoadID {
			return ordered[i].CourseLoadID < ordered[j].CourseLoadID
		}
		return KeyOf(ordered[i]).Less(KeyOf(ordered[j]))
	})
	keys := make([]geneKey, 0, len(ordered))
	byKey := make(map[geneKey]models.ScheduleEntry, len(ordered))
	seen := make(map[int64]int)
	for _, lesson := range ordered {
		key := geneKey{courseLoadID: lesson.CourseLoadID, occurrence: seen[lesson.CourseLoadID]}
		seen[lesson.CourseLoadID]++
		keys = append(keys, key)
		byKey[key] = lesson
	}
	return keys, byKey
}

// crossover takes the head of a and the tail of b around a single cut point
// over the union of both parents' genes. A gene only one parent carries is
// inherited from that parent. Lesson ids are renumbered.
func (e *Evolution) crossover(a, b []models.ScheduleEntry) []models.ScheduleEntry {
	keys, fromA := genes(a)
	keysB, fromB := genes(b)
	for _, key := range keysB {
		if _, ok := fromA[key]; !ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	cut := e.rng.Intn(len(keys) + 1)
	child := make([]models.ScheduleEntry, 0, len(keys))
	for i, key := range keys {
		lesson, inA := fromA[key]
		if !inA {
			lesson = fromB[key]
		}
		if inA && i >= cut {
			if other, ok := fromB[key]; ok {
				lesson.DayOfWeek = other.DayOfWeek
				lesson.TimeSlot = other.TimeSlot
				lesson.ClassroomID = other.ClassroomID
				lesson.ClassroomName = other.ClassroomName
			}
		}
		lesson.ID = int64(i + 1)
		child = append(child, lesson)
	}
	return child
}

// mutate moves a small share of lessons, picked by violation involvement, to
// random slots. repair resolves whatever this breaks.
func (e *Evolution) mutate(lessons []models.ScheduleEntry, report Report) []models.ScheduleEntry {
	if len(lessons) == 0 {
		return lessons
	}
	involvement := report.Involvement()
	choices := make([]weightedrand.Choice[int, int], 0, len(lessons))
	for i, lesson := range lessons {
		choices = append(choices, weightedrand.NewChoice(i, involvement[lesson.ID]+1))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return lessons
	}
	count := int(float64(len(lessons)) * e.cfg.MutationFraction)
	if count < 1 {
		count = 1
	}
	grid := e.evaluator.Grid()
	mutated := append([]models.ScheduleEntry(nil), lessons...)
	for i := 0; i < count; i++ {
		pos := chooser.PickSource(e.rng)
		mutated[pos].DayOfWeek = e.rng.Intn(grid.Days) + 1
		mutated[pos].TimeSlot = e.rng.Intn(grid.Slots) + 1
		mutated[pos].ClassroomID = nil
		mutated[pos].ClassroomName = nil
	}
	return mutated
}

// repair replays the lessons into a fresh index, relocating every lesson
// whose placement double-books, exceeds the daily cap or hits a veto.
// Classrooms that clash are swapped for a free compatible one or detached.
// It never drops lessons; it reports false when one cannot be placed.
func (e *Evolution) repair(lessons []models.ScheduleEntry) ([]models.ScheduleEntry, bool) {
	grid := e.evaluator.Grid()
	prefs := e.evaluator.Preferences()
	index := NewIndex(grid, false, e.logger)
	fits := func(lesson models.ScheduleEntry, key SlotKey) bool {
		return grid.Contains(key.Day, key.Slot) &&
			!index.TeacherBusy(key, lesson.TeacherID) &&
			!index.GroupBusy(key, lesson.GroupID) &&
			index.TeacherDayCount(lesson.TeacherID, key.Day) < DailyLessonCap &&
			index.GroupDayCount(lesson.GroupID, key.Day) < DailyLessonCap &&
			!prefs.Vetoed(lesson.TeacherID, key)
	}

	repaired := make([]models.ScheduleEntry, 0, len(lessons))
	for _, lesson := range lessons {
		key := KeyOf(lesson)
		if !fits(lesson, key) {
			keys := grid.Keys()
			e.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
			found := false
			for _, candidate := range keys {
				if fits(lesson, candidate) {
					key, found = candidate, true
					break
				}
			}
			if !found {
				return nil, false
			}
			lesson.DayOfWeek, lesson.TimeSlot = key.Day, key.Slot
		}

		kind := CanonicalLessonKind(lesson.LessonType)
		if lesson.ClassroomID == nil || !index.RoomFree(key, *lesson.ClassroomID) || !e.roomFits(*lesson.ClassroomID, lesson.GroupSize, kind) {
			lesson.ClassroomID, lesson.ClassroomName = nil, nil
			if room, ok := pickRoom(e.rng, index, e.rooms, key, lesson.GroupSize, kind); ok {
				id, name := room.ID, room.Name
				lesson.ClassroomID, lesson.ClassroomName = &id, &name
			}
		}
		index.insert(key, lesson)
		repaired = append(repaired, lesson)
	}
	return repaired, true
}

func (e *Evolution) roomFits(id int64, size int, kind string) bool {
	room, ok := e.evaluator.Classroom(id)
	return ok && room.IsActive && compatibleRoom(room, size, kind)
}

// refine runs a short local search on the best few candidates.
func (e *Evolution) refine(ctx context.Context, population []Candidate) []Candidate {
	sortCandidates(population)
	for i := 0; i < min(e.cfg.RefineTop, len(population)); i++ {
		ws := NewWorkspace(population[i].Lessons, e.evaluator, e.inputs.Classrooms, e.logger)
		search := NewLocalSearch(LocalSearchConfig{
			MaxIterations: e.cfg.RefineIterations,
			Patience:      e.cfg.RefineIterations,
			Logger:        e.logger,
		}, NewRulesetSelector(e.rng))
		refined, err := search.Run(ctx, ws, Hooks{})
		if err != nil {
			e.logger.Debug("refinement interrupted", zap.Error(err))
			continue
		}
		if refined.BestScore > population[i].Score() {
			population[i] = e.candidate(refined.Best)
		}
	}
	return population
}

func sortCandidates(population []Candidate) {
	sort.SliceStable(population, func(i, j int) bool {
		fi, fj := population[i].Report.Feasible(), population[j].Report.Feasible()
		if fi != fj {
			return fi
		}
		return population[i].Score() > population[j].Score()
	})
}

func meanScore(population []Candidate) float64 {
	if len(population) == 0 {
		return 0
	}
	total := 0
	for _, c := range population {
		total += c.Score()
	}
	return float64(total) / float64(len(population))
}

func countFeasible(population []Candidate) int {
	count := 0
	for _, c := range population {
		if c.Report.Feasible() {
			count++
		}
	}
	return count
}
