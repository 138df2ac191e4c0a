package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/store/memory"
	"github.com/warp/payroll-engine/store/sqlite"
)

type evaluateOptions struct {
	db         string
	file       string
	equationID string
	names      []string
	vars       []string
	metrics    []string
	from, to   string
	period     string

	location, providerLocation, process, payHeader string
	scheduleType                                   string
}

// EvaluationResult is one evaluated name.
type EvaluationResult struct {
	Name     string          `json:"name"`
	Value    equation.Value  `json:"value"`
	Quantity decimal.Decimal `json:"quantity"`
}

func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate equations from a database or a batch file",
		Long: `Compile the equations stored under --equation-id in the SQLite database
(--db), or the batch in --file, and evaluate each --name.

Cacheable variables are read from the database's metrics table. With --file
they come from --metric NAME=VALUE flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.db, "db", "", "SQLite database path")
	f.StringVarP(&opts.file, "file", "f", "", "JSON batch file")
	f.StringVar(&opts.equationID, "equation-id", "1", "equation id")
	f.StringSliceVarP(&opts.names, "name", "n", nil, "equation name to evaluate (repeatable)")
	f.StringSliceVar(&opts.vars, "var", nil, "constant override NAME=VALUE (repeatable)")
	f.StringSliceVar(&opts.metrics, "metric", nil, "metric value NAME=VALUE for --file (repeatable)")
	f.StringVar(&opts.from, "from", "", "period start (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&opts.to, "to", "", "period end (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&opts.period, "period", "", "pay period containing --from: weekly, biweekly, semi_monthly or monthly")
	f.StringVar(&opts.location, "location-id", "0", "location id")
	f.StringVar(&opts.providerLocation, "provider-location-id", "0", "provider location id")
	f.StringVar(&opts.process, "process-id", "0", "payroll process id")
	f.StringVar(&opts.payHeader, "pay-header-id", "0", "pay header id")
	f.StringVar(&opts.scheduleType, "schedule-type", "", "schedule type")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("period", "to")
	cmd.MarkFlagsMutuallyExclusive("db", "file")
	cmd.MarkFlagsOneRequired("db", "file")

	return cmd
}

func runEvaluate(ctx context.Context, rootOpts *RootOptions, opts *evaluateOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := decimal.NewFromString(opts.equationID)
	if err != nil {
		return wrapExitError(ExitCommandError, "invalid --equation-id", err)
	}
	params, err := opts.params()
	if err != nil {
		return wrapExitError(ExitCommandError, "invalid run parameters", err)
	}

	s, err := opts.open(ctx, id, params)
	if err != nil {
		return err
	}
	defer s.Close()

	log := logging.NewWriter(config.Log{Level: "warn", Format: "console"}, errOut)
	cache := equation.NewCache(equation.NewCompiler(equation.WithLogger(log)), log)
	defer cache.Close()

	ev, err := cache.GetOrBuild(ctx, id, s, s)
	if err != nil {
		f := formatter{format: rootOpts.Format, w: out}
		problems := equation.Problems(err)
		if problems != nil {
			_ = f.print(ValidationResult{Problems: problems}, func(w io.Writer) {
				for _, p := range problems {
					writeProblem(w, p)
				}
			})
		}
		return wrapExitError(ExitFailure, "compile failed", err)
	}

	session, err := ev.Session(params, nil)
	if err != nil {
		return wrapExitError(ExitFailure, "session", err)
	}
	overrides, err := assignments(opts.vars)
	if err != nil {
		return wrapExitError(ExitCommandError, "invalid --var", err)
	}
	for name, value := range overrides {
		if err := session.SetVariable(name, value); err != nil {
			return wrapExitError(ExitCommandError, "invalid --var", err)
		}
	}

	results := make([]EvaluationResult, 0, len(opts.names))
	for _, name := range opts.names {
		value, err := session.Evaluate(ctx, name)
		if err != nil {
			return wrapExitError(ExitFailure, "evaluate "+name, err)
		}
		qty, err := session.EvaluateQuantitySource(ctx, name)
		if err != nil {
			return wrapExitError(ExitFailure, "quantity of "+name, err)
		}
		results = append(results, EvaluationResult{Name: name, Value: value, Quantity: qty})
	}

	return formatter{format: rootOpts.Format, w: out}.print(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%s = %s (quantity %s)\n", r.Name, r.Value, r.Quantity)
		}
	})
}

// open returns the SQLite store, or a memory store seeded from --file.
func (o *evaluateOptions) open(ctx context.Context, id decimal.Decimal, params equation.Params) (store.Store, error) {
	if o.db != "" {
		s, err := sqlite.New(o.db)
		if err != nil {
			return nil, wrapExitError(ExitCommandError, "cannot open database", err)
		}
		return s, nil
	}

	batch, err := readBatch(o.file)
	if err != nil {
		return nil, err
	}
	s := memory.New()
	if err := s.SaveEquation(ctx, id, batch.Equations, batch.Variables); err != nil {
		return nil, wrapExitError(ExitFailure, "invalid batch", err)
	}
	metrics, err := assignments(o.metrics)
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "invalid --metric", err)
	}
	at := params.Period.Start
	if at.IsZero() {
		at = time.Now()
	}
	for name, value := range metrics {
		if err := s.RecordMetric(ctx, store.Metric{Name: name, Value: value, EffectiveAt: at}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (o *evaluateOptions) params() (equation.Params, error) {
	var p equation.Params
	from, err := parseInstant(o.from)
	if err != nil {
		return p, err
	}
	to, err := parseInstant(o.to)
	if err != nil {
		return p, err
	}
	switch generic.PeriodType(o.period) {
	case "":
		if p.Period, err = generic.NewPeriod(from, to); err != nil {
			return p, err
		}
	case generic.PeriodWeekly, generic.PeriodBiweekly, generic.PeriodSemiMonthly, generic.PeriodMonthly:
		if from.IsZero() {
			return p, fmt.Errorf("--period %s needs --from", o.period)
		}
		p.Period = generic.PeriodConfig{Type: generic.PeriodType(o.period)}.PeriodFor(from)
	default:
		return p, fmt.Errorf("unknown period type %q", o.period)
	}
	ids := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{o.location, &p.LocationID},
		{o.providerLocation, &p.ProviderLocationID},
		{o.process, &p.ProcessID},
		{o.payHeader, &p.PayHeaderID},
	}
	for _, id := range ids {
		if *id.dst, err = decimal.NewFromString(id.raw); err != nil {
			return p, fmt.Errorf("id %q: %w", id.raw, err)
		}
	}
	p.ScheduleType = o.scheduleType
	return p, nil
}

// parseInstant accepts a date or an RFC 3339 instant. Empty is zero.
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// assignments parses NAME=VALUE pairs into decimals.
func assignments(pairs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%q: want NAME=VALUE", pair)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pair, err)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}
