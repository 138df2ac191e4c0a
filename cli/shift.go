package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/timerange"
)

// shiftOptions are the flags shared by qualify and hours.
type shiftOptions struct {
	zone                    string
	in, out                 string
	actualIn, actualOut     string
	begin, end              string
	timingCode              int
	ruleType                string
	noTimeRange             bool
	mode                    string
	holidayStart            string
	holidayEnd              string
	location                string
	scheduledDST, actualDST string
}

// ShiftResult is the output of qualify and hours.
type ShiftResult struct {
	Qualifies   bool            `json:"qualifies"`
	Mode        timerange.Mode  `json:"mode"`
	Hours       decimal.Decimal `json:"hours"`
	ShiftLength decimal.Decimal `json:"shift_length"`
}

func (o *shiftOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.zone, "tz", "UTC", "IANA time zone for times without an offset")
	f.StringVar(&o.in, "in", "", "scheduled start")
	f.StringVar(&o.out, "out", "", "scheduled end")
	f.StringVar(&o.actualIn, "actual-in", "", "clocked start")
	f.StringVar(&o.actualOut, "actual-out", "", "clocked end")
	f.StringVar(&o.begin, "begin", "00:00", "rule window start (HH:MM)")
	f.StringVar(&o.end, "end", "00:00", "rule window end (HH:MM)")
	f.IntVar(&o.timingCode, "timing-code", timerange.EveryDay, "rule days: 0 every day, 1-7 Sunday-Saturday, 8 weekdays, 9 weekend")
	f.StringVar(&o.ruleType, "type", "", "rule type (HOL for holiday rules)")
	f.BoolVar(&o.noTimeRange, "no-time-range", false, "rule pays the whole shift")
	f.StringVar(&o.mode, "mode", string(timerange.Scheduled), "ACTUAL or SCHEDULED")
	f.StringVar(&o.holidayStart, "holiday-start", "", "holiday start")
	f.StringVar(&o.holidayEnd, "holiday-end", "", "holiday end")
	f.StringVar(&o.location, "location-id", "0", "shift location id")
	f.StringVar(&o.scheduledDST, "scheduled-daylight", "0", "hours added to scheduled spans crossing a daylight-saving change")
	f.StringVar(&o.actualDST, "actual-daylight", "0", "hours added to actual spans crossing a daylight-saving change")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	cmd.MarkFlagsRequiredTogether("actual-in", "actual-out")
	cmd.MarkFlagsRequiredTogether("holiday-start", "holiday-end")
}

func NewQualifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &shiftOptions{}
	cmd := &cobra.Command{
		Use:   "qualify",
		Short: "Check whether a shift qualifies for a pay rule",
		Long: `Judge a shift by its scheduled start against a pay rule window.

Times are RFC 3339, or YYYY-MM-DDTHH:MM in the --tz zone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShift(rootOpts, opts, cmd.OutOrStdout(), func(w io.Writer, r ShiftResult) {
				if r.Qualifies {
					fmt.Fprintln(w, "qualifies")
				} else {
					fmt.Fprintln(w, "does not qualify")
				}
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func NewHoursCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &shiftOptions{}
	cmd := &cobra.Command{
		Use:   "hours",
		Short: "Compute the hours a pay rule pays for a shift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShift(rootOpts, opts, cmd.OutOrStdout(), func(w io.Writer, r ShiftResult) {
				fmt.Fprintf(w, "hours         %s\n", r.Hours)
				fmt.Fprintf(w, "shift length  %s\n", r.ShiftLength)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func runShift(rootOpts *RootOptions, opts *shiftOptions, out io.Writer, text func(io.Writer, ShiftResult)) error {
	m, mode, err := opts.matcher()
	if err != nil {
		return wrapExitError(ExitCommandError, "invalid shift", err)
	}
	result := ShiftResult{
		Qualifies:   m.ShiftQualifies(),
		Mode:        mode,
		Hours:       m.QualifyingHours(mode),
		ShiftLength: m.ShiftLength(mode),
	}
	return formatter{format: rootOpts.Format, w: out}.print(result, func(w io.Writer) { text(w, result) })
}

func (o *shiftOptions) matcher() (*timerange.Matcher, timerange.Mode, error) {
	mode := timerange.Mode(strings.ToUpper(o.mode))
	if mode != timerange.Actual && mode != timerange.Scheduled {
		return nil, "", fmt.Errorf("mode %q: want ACTUAL or SCHEDULED", o.mode)
	}
	loc, err := time.LoadLocation(o.zone)
	if err != nil {
		return nil, "", err
	}

	var shift timerange.Shift
	times := []struct {
		raw string
		dst *time.Time
	}{
		{o.in, &shift.ScheduledIn},
		{o.out, &shift.ScheduledOut},
		{o.actualIn, &shift.ActualIn},
		{o.actualOut, &shift.ActualOut},
	}
	for _, t := range times {
		if *t.dst, err = parseLocal(t.raw, loc); err != nil {
			return nil, "", err
		}
	}
	if shift.ScheduledOut.Before(shift.ScheduledIn) {
		return nil, "", fmt.Errorf("scheduled end %s is before start: %w", o.out, generic.ErrInvalidPeriod)
	}
	if shift.LocationID, err = decimal.NewFromString(o.location); err != nil {
		return nil, "", fmt.Errorf("location id %q: %w", o.location, err)
	}
	if shift.ScheduledDaylight, err = decimal.NewFromString(o.scheduledDST); err != nil {
		return nil, "", fmt.Errorf("scheduled daylight %q: %w", o.scheduledDST, err)
	}
	if shift.ActualDaylight, err = decimal.NewFromString(o.actualDST); err != nil {
		return nil, "", fmt.Errorf("actual daylight %q: %w", o.actualDST, err)
	}

	window := timerange.Window{
		TimingCode:   o.timingCode,
		EquationType: strings.ToUpper(o.ruleType),
		NoTimeRange:  o.noTimeRange,
	}
	if window.Begin, err = generic.ParseTimeOfDay(o.begin); err != nil {
		return nil, "", err
	}
	if window.End, err = generic.ParseTimeOfDay(o.end); err != nil {
		return nil, "", err
	}

	var holiday *timerange.Holiday
	if o.holidayStart != "" {
		h := timerange.Holiday{}
		if h.Start, err = parseLocal(o.holidayStart, loc); err != nil {
			return nil, "", err
		}
		if h.End, err = parseLocal(o.holidayEnd, loc); err != nil {
			return nil, "", err
		}
		holiday = &h
	}
	return timerange.New(shift, window, holiday), mode, nil
}

// parseLocal reads RFC 3339, or a zone-less date-time in loc. Empty is zero.
func parseLocal(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q: want RFC 3339 or YYYY-MM-DDTHH:MM", s)
}
