package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-pipeline/internal/monitoring"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show session health and optionally fail stale sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		lookback, _ := cmd.Flags().GetDuration("lookback")
		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		doRecover, _ := cmd.Flags().GetBool("recover")

		if doRecover {
			if err := checkStaleWindow(staleAfter); err != nil {
				return err
			}
		}

		collector := monitoring.NewCollector(env.Store, env.Intel, nil)
		snap, err := collector.Collect(ctx, int(lookback.Hours()), staleAfter)
		if err != nil {
			return eris.Wrap(err, "health")
		}
		formatSnapshot(os.Stdout, snap)

		if !doRecover {
			return nil
		}
		recovered := 0
		for _, id := range snap.StaleSessionIDs {
			ok, err := env.Service.RecoverStale(ctx, id, staleAfter)
			if err != nil {
				fmt.Fprintf(os.Stderr, "recover %s: %v\n", truncateID(id), err)
				continue
			}
			if ok {
				recovered++
			}
		}
		fmt.Fprintf(os.Stdout, "\nRecovered %d stale session(s)\n", recovered)
		return nil
	},
}

func init() {
	healthCmd.Flags().Duration("lookback", 24*time.Hour, "window for settled sessions (e.g. 24h, 168h)")
	healthCmd.Flags().Duration("stale-after", 30*time.Minute, "in-progress sessions idle longer than this are stale")
	healthCmd.Flags().Bool("recover", false, "mark stale sessions FAILED and release their locks")
	rootCmd.AddCommand(healthCmd)
}

// checkStaleWindow rejects a stale window shorter than the lock TTL; a phase
// that is still running holds its lock and writes at least that often.
func checkStaleWindow(staleAfter time.Duration) error {
	ttl := time.Duration(cfg.Lock.TTLMins) * time.Minute
	if staleAfter < ttl {
		return eris.Errorf("health: --stale-after %s is shorter than lock.ttl_mins (%s)", staleAfter, ttl)
	}
	return nil
}

// formatSnapshot writes a health snapshot to out.
func formatSnapshot(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Aborted:\t%d\n", s.Aborted)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	if s.AvgCompletedSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgCompletedSecs)
	}
	_, _ = fmt.Fprintf(w, "Initialized:\t%d\n", s.Initialized)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.InProgress)
	_, _ = fmt.Fprintf(w, "Awaiting approval:\t%d\n", s.AwaitingApproval)
	_, _ = fmt.Fprintf(w, "Stale:\t%d\n", len(s.StaleSessionIDs))
	if len(s.OpenBreakers) > 0 {
		_, _ = fmt.Fprintf(w, "Open breakers:\t%s\n", strings.Join(s.OpenBreakers, ", "))
	}
	_ = w.Flush()

	for _, id := range s.StaleSessionIDs {
		_, _ = fmt.Fprintf(out, "  stale %s\n", id)
	}
}
