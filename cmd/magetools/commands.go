package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"magetools/internal/grimorium"
	"magetools/internal/spell"
)

var initName string

// initCmd bootstraps a grimorium directory with a default manifest.
var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Opt a directory in as a grimorium",
	Long: `Creates the directory if needed and writes a default manifest.json with
enabled: true. Writing the manifest is the explicit opt-in: without one, a
strict-mode scan never loads the directory. Refuses to overwrite an
existing manifest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.InitGrimorium(args[0], initName); err != nil {
			return err
		}
		fmt.Printf("Initialized grimorium at %s\n", args[0])
		return nil
	},
}

// scanCmd runs the full pipeline: structural scan, then semantic sync.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the discovery root and refresh the semantic index",
	Long: `Walks the discovery root, loads every manifested grimorium, quarantines
broken or unsafe files, then re-summarizes and re-embeds the grimoriums
whose content changed since the last sync. Partial failures are reported,
not fatal; only an unusable root aborts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		ctx := cmd.Context()

		scanReport, err := eng.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Active grimoriums:  %d\n", scanReport.ActiveGrimoriums)
		fmt.Printf("Registered spells:  %d\n", scanReport.Spells)
		fmt.Printf("Quarantined units:  %d\n", scanReport.QuarantinedUnits)
		if scanReport.Removed > 0 {
			fmt.Printf("Removed from index: %d\n", scanReport.Removed)
		}
		for _, q := range eng.Snapshot().Quarantine() {
			fmt.Printf("  quarantined %s (%s): %s\n", q.Subject, q.Reason, q.Detail)
		}

		syncReport, err := eng.Sync(ctx)
		if err != nil {
			// Semantic sync failing leaves the registry fully usable.
			logger.Warn("sync failed; registry is fresh but summaries are stale", zap.Error(err))
			return nil
		}
		fmt.Printf("Re-summarized:      %d (skipped %d, failed %d)\n",
			syncReport.Synced, syncReport.Skipped, syncReport.Failed)
		for _, line := range syncReport.Errors {
			fmt.Printf("  sync failed: %s\n", line)
		}
		return nil
	},
}

// searchCmd queries the grimorium-level namespace.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find grimoriums relevant to a capability query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		ctx := cmd.Context()

		if _, err := eng.Scan(ctx); err != nil {
			return err
		}
		matches, err := eng.DiscoverGrimoriums(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No matching grimoriums. Run 'magetools scan' if content changed recently.")
			return nil
		}
		for _, m := range matches {
			marker := ""
			if m.Stale {
				marker = " (summary stale)"
			}
			fmt.Printf("%.3f  %s  %s [%d spells]%s\n", m.Score, m.ID, m.Description, m.SpellCount, marker)
		}
		return nil
	},
}

// spellsCmd queries the spell-level namespace inside one grimorium.
var spellsCmd = &cobra.Command{
	Use:   "spells <grimorium> <query>",
	Short: "Find spells inside one grimorium",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		ctx := cmd.Context()

		if _, err := eng.Scan(ctx); err != nil {
			return err
		}
		matches, err := eng.DiscoverSpells(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No matching spells.")
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%.3f  %s.%s\n", m.Score, args[0], m.Signature)
			if m.Doc != "" {
				fmt.Printf("       %s\n", strings.SplitN(m.Doc, "\n", 2)[0])
			}
		}
		return nil
	},
}

// listCmd enumerates every invokable spell.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every spell the current policy permits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if _, err := eng.Scan(cmd.Context()); err != nil {
			return err
		}
		names := eng.ListSpells()
		if len(names) == 0 {
			fmt.Println("No spells loaded. Run 'magetools init' on a directory to opt it in.")
			return nil
		}
		for _, name := range names {
			sp := eng.Snapshot().Get(name)
			fmt.Printf("%s.%s\n", sp.Grimorium, sp.Signature())
		}
		return nil
	},
}

var execArgs []string

// execCmd invokes one spell by qualified name.
var execCmd = &cobra.Command{
	Use:   "exec <grimorium.Spell>",
	Short: "Execute a spell",
	Long: `Executes a spell by its qualified name with --arg name=value pairs.
Values parse as bool, int, or float when they look like one, and as
strings otherwise.

Example:
  magetools exec math.Add --arg a=2 --arg b=3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if _, err := eng.Scan(cmd.Context()); err != nil {
			return err
		}

		callArgs, err := parseArgPairs(execArgs)
		if err != nil {
			return err
		}
		res, err := eng.ExecuteSpell(cmd.Context(), args[0], callArgs)
		if err != nil {
			return err
		}
		fmt.Println(res.Result)
		logger.Debug("spell executed", zap.String("spell", args[0]), zap.Int64("duration_ms", res.DurationMs))
		return nil
	},
}

// watchCmd keeps the index fresh until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the discovery root and rescan on changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if _, err := eng.Scan(ctx); err != nil {
			return err
		}
		if _, err := eng.Sync(ctx); err != nil {
			logger.Warn("initial sync failed", zap.Error(err))
		}

		w, err := grimorium.NewWatcher(eng)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", cfg.Root)
		<-ctx.Done()
		return nil
	},
}

// guideCmd prints the agent-facing usage guide.
var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Print the agent-facing discovery guide",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		fmt.Print(eng.UsageGuide())
		return nil
	},
}

// parseArgPairs turns --arg k=v pairs into a spell argument map. Values
// that look like bools or numbers become typed; everything else stays a
// string, and ValidateArgs has the final say.
func parseArgPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: --arg wants name=value, got %q", spell.ErrInvalidArgument, pair)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func parseValue(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "grimorium display name (defaults to the directory name)")
	execCmd.Flags().StringArrayVar(&execArgs, "arg", nil, "spell argument as name=value (repeatable)")
}
