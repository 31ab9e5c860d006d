package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/orchestrator"
	"github.com/sells-group/research-pipeline/internal/store"
)

// -- init --

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create (or reuse) a research session for a domain",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		domain, _ := cmd.Flags().GetString("domain")
		owner, _ := cmd.Flags().GetString("owner")
		preset, _ := cmd.Flags().GetString("preset")
		company, _ := cmd.Flags().GetString("company")
		scraper, _ := cmd.Flags().GetString("scraper")
		maxPages, _ := cmd.Flags().GetInt("max-pages")

		if preset == "" {
			preset = cfg.Phases.Default
		}
		pc, err := env.Presets.Get(preset)
		if err != nil {
			return err
		}

		res, err := env.Service.InitializeSession(ctx, orchestrator.InitRequest{
			Domain:       domain,
			OwnerID:      owner,
			CompanyName:  company,
			PhaseControl: &pc,
			Options:      model.SessionOptions{ScraperID: scraper, MaxPages: maxPages},
		})
		if err != nil {
			return eris.Wrap(err, "init session")
		}

		verb := "Created"
		if !res.Created {
			verb = "Reusing"
		}
		fmt.Fprintf(os.Stderr, "%s session %s for %s\n", verb, res.Session.ID, res.Session.Domain)
		return printJSON(os.Stdout, res.Session)
	},
}

// -- execute --

var executeCmd = &cobra.Command{
	Use:   "execute <session-id>",
	Short: "Execute a phase of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		phase, _ := cmd.Flags().GetString("phase")
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")

		res, err := env.Service.ExecutePhase(ctx, args[0], model.Phase(strings.ToUpper(phase)), autoApprove)
		if err != nil {
			return eris.Wrap(err, "execute phase")
		}
		formatResult(os.Stdout, res)
		return nil
	},
}

// -- approve --

var approveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve a session awaiting approval and run its next phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.ApproveAndContinue(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "approve session")
		}
		formatResult(os.Stdout, res)
		return nil
	},
}

// -- abort --

var abortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Abort a session and release its execution locks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Service.AbortSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "abort session")
		}
		fmt.Fprintf(os.Stdout, "Session %s %s\n", sess.ID, sess.Status)
		return nil
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a session, or list sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			sess, err := env.Service.Status(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "session status")
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return printJSON(os.Stdout, sess)
			}
			formatSession(os.Stdout, sess)
			return nil
		}

		owner, _ := cmd.Flags().GetString("owner")
		domain, _ := cmd.Flags().GetString("domain")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := env.Service.List(ctx, store.SessionFilter{
			OwnerID: owner,
			Domain:  domain,
			Status:  model.SessionStatus(strings.ToUpper(status)),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "list sessions")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		formatSessionList(os.Stdout, sessions)
		return nil
	},
}

func init() {
	initCmd.Flags().String("domain", "", "company domain or URL (required)")
	initCmd.Flags().String("owner", "", "owner id; an owner has at most one live session per domain")
	initCmd.Flags().String("preset", "", "phase control preset (default from config)")
	initCmd.Flags().String("company", "", "company name (derived from the domain when empty)")
	initCmd.Flags().String("scraper", "", "scraping strategy id (default from config)")
	initCmd.Flags().Int("max-pages", 0, "max pages to scrape (0 = executor default)")
	_ = initCmd.MarkFlagRequired("domain")

	executeCmd.Flags().String("phase", string(model.PhaseDiscovery), "phase to execute (DISCOVERY, SCRAPING, ENRICHMENT, GENERATION)")
	executeCmd.Flags().Bool("auto-approve", false, "skip approval gates for this run")

	statusCmd.Flags().Bool("json", false, "print the full session as JSON")
	statusCmd.Flags().String("owner", "", "filter by owner id")
	statusCmd.Flags().String("domain", "", "filter by domain")
	statusCmd.Flags().String("status", "", "filter by status")
	statusCmd.Flags().Int("limit", 50, "max number of sessions to display")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(statusCmd)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatResult writes the phases a run executed and where the session ended.
func formatResult(out io.Writer, res *orchestrator.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tSUCCESS\tDURATION\tERRORS")
	_, _ = fmt.Fprintln(w, "-----\t-------\t--------\t------")
	for _, pr := range res.Phases {
		_, _ = fmt.Fprintf(w, "%s\t%t\t%dms\t%d\n", pr.Phase, pr.Success, pr.DurationMs, len(pr.Errors))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nStatus: %s\n", res.Status)
	if res.NextPhase != "" {
		_, _ = fmt.Fprintf(out, "Next phase: %s\n", res.NextPhase)
	}
}

// formatSession writes a human summary of one session.
func formatSession(out io.Writer, s *model.ResearchSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", s.ID)
	_, _ = fmt.Fprintf(w, "Domain:\t%s\n", s.Domain)
	_, _ = fmt.Fprintf(w, "Company:\t%s\n", s.CompanyName)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	if s.CurrentPhase != "" {
		_, _ = fmt.Fprintf(w, "Phase:\t%s\n", s.CurrentPhase)
	}
	_, _ = fmt.Fprintf(w, "Discovered URLs:\t%d\n", len(s.DiscoveredURLs))
	_, _ = fmt.Fprintf(w, "Pages:\t%d\n", s.MergedData.Stats.TotalPages)
	_, _ = fmt.Fprintf(w, "Data points:\t%d\n", s.MergedData.Stats.DataPoints)
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", s.Error)
	}
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", s.UpdatedAt.Format("2006-01-02 15:04"))
	_ = w.Flush()

	for _, p := range s.PhaseControl.Phases {
		pr, ok := s.PhaseResults[p]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(out, "  %-11s success=%t duration=%dms errors=%d\n", p, pr.Success, pr.DurationMs, len(pr.Errors))
	}
}

// formatSessionList writes a tabular list of sessions to out.
func formatSessionList(out io.Writer, sessions []model.ResearchSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tPHASE\tPAGES\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t-----\t-------")

	for _, s := range sessions {
		domain := s.Domain
		if len(domain) > 30 {
			domain = domain[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(s.ID),
			domain,
			s.Status,
			s.CurrentPhase,
			s.MergedData.Stats.TotalPages,
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
