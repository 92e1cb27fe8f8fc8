package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/fixture"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	"github.com/noah-isme/timetable-engine/internal/service"
	"github.com/noah-isme/timetable-engine/pkg/config"
	"github.com/noah-isme/timetable-engine/pkg/logger"
)

// options are shared by every engine command.
type options struct {
	paths        fixture.Paths
	schedule     string
	out          string
	semester     int
	academicYear string
	iterations   int
	strategy     string
	seed         int64
	verbose      bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := &options{
		semester:   1,
		iterations: cfg.Scheduler.MaxIterations,
		strategy:   models.StrategyLocalSearch,
		seed:       time.Now().UnixNano(),
	}

	root := &cobra.Command{
		Use:          "timetable-cli",
		Short:        "Build, score and optimise university timetables from CSV files",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every optimiser step")

	cmdGenerate := &cobra.Command{
		Use:   "generate",
		Short: "construct a schedule and optimise it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newRunner(cfg, opts).generate(ctx)
		},
	}
	inputFlags(cmdGenerate, opts)
	searchFlags(cmdGenerate, opts)
	cmdGenerate.Flags().StringVarP(&opts.out, "out", "o", "schedule.csv", "where to write the schedule")
	root.AddCommand(cmdGenerate)

	cmdOptimize := &cobra.Command{
		Use:   "optimize",
		Short: "improve an existing schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newRunner(cfg, opts).optimize(ctx)
		},
	}
	inputFlags(cmdOptimize, opts)
	searchFlags(cmdOptimize, opts)
	cmdOptimize.Flags().StringVar(&opts.schedule, "schedule", "schedule.csv", "schedule to start from")
	cmdOptimize.Flags().StringVarP(&opts.out, "out", "o", "schedule.optimized.csv", "where to write the schedule")
	root.AddCommand(cmdOptimize)

	cmdScore := &cobra.Command{
		Use:   "score",
		Short: "score and analyse a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newRunner(cfg, opts).score(cmd.OutOrStdout())
		},
	}
	inputFlags(cmdScore, opts)
	cmdScore.Flags().StringVar(&opts.schedule, "schedule", "schedule.csv", "schedule to score")
	root.AddCommand(cmdScore)

	root.AddCommand(tokenCommand(cfg))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func inputFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.paths.Loads, "loads", "loads.csv", "course load file")
	cmd.Flags().StringVar(&opts.paths.Classrooms, "classrooms", "classrooms.csv", "classroom file")
	cmd.Flags().StringVar(&opts.paths.Preferences, "preferences", "", "teacher preference file (optional)")
	cmd.Flags().IntVar(&opts.semester, "semester", opts.semester, "semester stamped on the loads")
	cmd.Flags().StringVar(&opts.academicYear, "academic-year", "", "academic year stamped on the loads, e.g. 2025/2026")
}

func searchFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", opts.iterations, "optimiser budget (iterations or generations)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", opts.strategy, "local_search or evolutionary")
	cmd.Flags().Int64Var(&opts.seed, "seed", opts.seed, "random seed")
}

func tokenCommand(cfg *config.Config) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := service.NewTokenService(cfg.JWT.Secret).Issue(userID, models.UserRole(role), ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "operator", "subject of the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleScheduler), "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newLogger(cfg *config.Config, verbose bool) *zap.Logger {
	logCfg := *cfg
	logCfg.Log.Format = "console"
	if verbose {
		logCfg.Log.Level = "debug"
	}
	logr, err := logger.New(&logCfg)
	if err != nil {
		return zap.NewNop()
	}
	return logr
}

func gridFrom(cfg *config.Config) scheduler.Grid {
	return scheduler.NewGrid(cfg.Scheduler.DaysPerWeek, cfg.Scheduler.SlotsPerDay)
}
