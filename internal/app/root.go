package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/output"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	storeFactory = openStore
	nowFunc      = time.Now
)

type globalOptions struct {
	JSON          bool
	JSONL         bool
	Plain         bool
	Fields        string
	Quiet         bool
	Verbose       bool
	NoColor       bool
	Profile       string
	Config        string
	Store         string
	Owner         string
	TZ            string
	Timeout       time.Duration
	SchemaVersion string
	Horizon       int
	MaxSlots      int
	Grace         time.Duration

	log zerolog.Logger
	loc *time.Location
}

func (o *globalOptions) searchOptions() schedule.SearchOptions {
	return schedule.SearchOptions{HorizonDays: o.Horizon, MaxResults: o.MaxSlots}
}

func Execute() int {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		renderTopLevelError(cmd, err)
	}
	return ExitCode(err)
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{
		Profile:       "default",
		Timeout:       15 * time.Second,
		SchemaVersion: contract.SchemaVersion,
		Horizon:       schedule.DefaultHorizonDays,
		MaxSlots:      schedule.DefaultMaxResults,
		Grace:         schedule.DefaultGracePeriod,
	}

	root := &cobra.Command{
		Use:           "tempo",
		Short:         "Schedule tasks without double-booking: conflicts, free slots and cascading shifts",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       BuildVersionString(),
	}
	root.SetVersionTemplate("tempo {{.Version}}\n")

	root.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output structured JSON")
	root.PersistentFlags().BoolVar(&opts.JSONL, "jsonl", false, "Output newline-delimited JSON")
	root.PersistentFlags().BoolVar(&opts.Plain, "plain", false, "Output stable plain text")
	root.PersistentFlags().StringVar(&opts.Fields, "fields", "", "Projected fields, comma-separated")
	root.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Reduce success output")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose diagnostics")
	root.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable color output")
	root.PersistentFlags().StringVar(&opts.Profile, "profile", "default", "Config profile")
	root.PersistentFlags().StringVar(&opts.Config, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&opts.Store, "store", "", "Commitment database path (:memory: for a throwaway store)")
	root.PersistentFlags().StringVar(&opts.Owner, "owner", "", "Owner whose commitments are scheduled")
	root.PersistentFlags().StringVar(&opts.TZ, "tz", "", "IANA timezone for day boundaries and output")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "Store call timeout (e.g. 10s, 1m, 0 to disable)")
	root.PersistentFlags().StringVar(&opts.SchemaVersion, "schema-version", contract.SchemaVersion, "Output schema version")
	root.PersistentFlags().IntVar(&opts.Horizon, "horizon", schedule.DefaultHorizonDays, "Days searched for alternative slots")
	root.PersistentFlags().IntVar(&opts.MaxSlots, "max-slots", schedule.DefaultMaxResults, "Maximum alternative slots returned")
	root.PersistentFlags().DurationVar(&opts.Grace, "grace", schedule.DefaultGracePeriod, "Grace period before a proposal counts as overdue")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newAddCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newDoneCmd(opts, true))
	root.AddCommand(newDoneCmd(opts, false))
	root.AddCommand(newDeleteCmd(opts))
	root.AddCommand(newTodayCmd(opts))
	root.AddCommand(newFreebusyCmd(opts))
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newSuggestCmd(opts))
	root.AddCommand(newExtendCmd(opts))
	root.AddCommand(newResumeCmd(opts))
	root.AddCommand(newBatchCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newCompletionCmd(root))

	return root
}

func buildContext(cmd *cobra.Command, opts *globalOptions, command string) (output.Printer, store.Store, *globalOptions, error) {
	resolved, err := resolveGlobalOptions(cmd, opts)
	if err != nil {
		return output.Printer{}, nil, nil, Wrap(2, err)
	}
	if conflictCount(resolved.JSON, resolved.JSONL, resolved.Plain) > 1 {
		return output.Printer{}, nil, nil, Wrap(2, errors.New("--json, --jsonl, and --plain are mutually exclusive"))
	}
	mode := output.ModeAuto
	if resolved.JSON {
		mode = output.ModeJSON
	} else if resolved.JSONL {
		mode = output.ModeJSONL
	} else if resolved.Plain {
		mode = output.ModePlain
	}

	printer := output.Printer{
		Mode:          mode,
		Command:       command,
		Fields:        splitCSV(resolved.Fields),
		Quiet:         resolved.Quiet,
		NoColor:       resolved.NoColor,
		SchemaVersion: resolved.SchemaVersion,
		Out:           cmd.OutOrStdout(),
		Err:           cmd.ErrOrStderr(),
	}

	resolved.loc = resolveLocation(resolved.TZ)
	resolved.log = newLogger(printer.Err, resolved.Verbose, resolved.NoColor).With().Str("command", command).Logger()
	if resolved.Owner == "" {
		resolved.Owner = defaultOwner()
	}
	if resolved.Horizon < 0 || resolved.MaxSlots < 0 {
		err := fmt.Errorf("--horizon and --max-slots must not be negative")
		_ = printer.Error(contract.ErrInvalidUsage, err.Error(), "Use 0 for the defaults (5 days, 3 slots)")
		return printer, nil, nil, WrapPrinted(2, err)
	}
	if resolved.Grace < 0 {
		err := fmt.Errorf("--grace must not be negative")
		_ = printer.Error(contract.ErrInvalidUsage, err.Error(), "Use --grace like 60s")
		return printer, nil, nil, WrapPrinted(2, err)
	}

	ctx, cancel := commandContext(resolved)
	defer cancel()
	st, err := storeFactory(ctx, resolved)
	if err != nil {
		_ = printer.Error(contract.ErrStoreUnavailable, err.Error(), "Check --store path and permissions")
		return printer, nil, nil, WrapPrinted(6, err)
	}
	resolved.log.Debug().
		Str("store", resolved.Store).
		Str("owner", resolved.Owner).
		Str("mode", string(mode)).
		Str("tz", resolved.loc.String()).
		Str("profile", resolved.Profile).
		Dur("timeout", resolved.Timeout).
		Int("horizon", resolved.Horizon).
		Int("max_slots", resolved.MaxSlots).
		Dur("grace", resolved.Grace).
		Msg("resolved options")
	return printer, st, resolved, nil
}

func openStore(ctx context.Context, ro *globalOptions) (store.Store, error) {
	path := ro.Store
	if path == "" {
		path = defaultStorePath()
		ro.Store = path
	}
	if path == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(ctx, path, ro.loc)
}

func defaultStorePath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "tempo", "tempo.db")
	}
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		return "tempo.db"
	}
	return filepath.Join(home, ".local", "share", "tempo", "tempo.db")
}

func defaultOwner() string {
	if u := env("USER"); u != "" {
		return u
	}
	return "default"
}

func renderTopLevelError(cmd *cobra.Command, err error) {
	var appErr AppError
	if errors.As(err, &appErr) && appErr.Printed {
		return
	}
	if wantsStructuredErrorOutput(os.Args[1:]) {
		printer := output.Printer{
			Mode:          output.ModeJSON,
			SchemaVersion: contract.SchemaVersion,
			Err:           cmd.ErrOrStderr(),
		}
		_ = printer.Error(errorCodeForExit(ExitCode(err)), err.Error(), "")
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err.Error())
}

func wantsStructuredErrorOutput(args []string) bool {
	for _, arg := range args {
		switch {
		case arg == "--":
			return false
		case arg == "--json", arg == "--jsonl":
			return true
		case strings.HasPrefix(arg, "--json="), strings.HasPrefix(arg, "--jsonl="):
			return true
		}
	}
	return false
}

func resolveLocation(tz string) *time.Location {
	if strings.TrimSpace(tz) != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

func conflictCount(vals ...bool) int {
	total := 0
	for _, v := range vals {
		if v {
			total++
		}
	}
	return total
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
