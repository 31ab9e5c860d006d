package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/monitoring"
	"github.com/sells-group/research-pipeline/internal/orchestrator"
	"github.com/sells-group/research-pipeline/internal/store"
)

func TestFormatResult(t *testing.T) {
	res := &orchestrator.Result{
		Phases: []model.PhaseResult{
			{Phase: model.PhaseDiscovery, Success: true, DurationMs: 1200},
			{Phase: model.PhaseScraping, Success: false, DurationMs: 300, Errors: []model.ItemError{{URL: "https://acme.com/a", Kind: "timeout", Message: "deadline exceeded"}}},
		},
		Status:    model.SessionStatusAwaitingApproval,
		NextPhase: model.PhaseEnrichment,
	}

	var buf bytes.Buffer
	formatResult(&buf, res)

	output := buf.String()
	assert.Contains(t, output, "PHASE")
	assert.Contains(t, output, "DISCOVERY")
	assert.Contains(t, output, "1200ms")
	assert.Contains(t, output, "SCRAPING")
	assert.Contains(t, output, "Status: AWAITING_APPROVAL")
	assert.Contains(t, output, "Next phase: ENRICHMENT")
}

func TestFormatResult_NoNextPhase(t *testing.T) {
	var buf bytes.Buffer
	formatResult(&buf, &orchestrator.Result{Status: model.SessionStatusCompleted})
	assert.Contains(t, buf.String(), "Status: COMPLETED")
	assert.NotContains(t, buf.String(), "Next phase")
}

func TestFormatSession(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	sess := &model.ResearchSession{
		ID:             "abc12345-6789-0000-0000-000000000000",
		Domain:         "acme.com",
		CompanyName:    "Acme",
		Status:         model.SessionStatusFailed,
		CurrentPhase:   model.PhaseScraping,
		PhaseControl:   model.DefaultPhaseControl(),
		DiscoveredURLs: []string{"https://acme.com/"},
		PhaseResults: map[model.Phase]model.PhaseResult{
			model.PhaseDiscovery: {Phase: model.PhaseDiscovery, Success: true, DurationMs: 40},
		},
		Error:     "scraping: network error",
		UpdatedAt: now,
	}

	var buf bytes.Buffer
	formatSession(&buf, sess)

	output := buf.String()
	assert.Contains(t, output, "acme.com")
	assert.Contains(t, output, "FAILED")
	assert.Contains(t, output, "scraping: network error")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "DISCOVERY")
	assert.Contains(t, output, "duration=40ms")
	assert.NotContains(t, output, "GENERATION")
}

func TestFormatSessionList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	sessions := []model.ResearchSession{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Domain:       "acme.com",
			Status:       model.SessionStatusCompleted,
			CurrentPhase: model.PhaseGeneration,
			UpdatedAt:    now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Domain:    "a-very-long-subdomain.example-company-name.com",
			Status:    model.SessionStatusInitialized,
			UpdatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatSessionList(&buf, sessions)

	output := buf.String()
	assert.Contains(t, output, "DOMAIN")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "COMPLETED")
	assert.Contains(t, output, "GENERATION")
	assert.Contains(t, output, "...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestSessionCommands_EndToEnd(t *testing.T) {
	c := withTestConfig(t)
	t.Setenv("RESEARCH_STORE_SQLITE_PATH", c.Store.SQLitePath)

	rootCmd.SetArgs([]string{"init", "--domain", "acme.com", "--owner", "user-1", "--preset", "scrape-only"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	cfg = c
	env, err := initEnv(context.Background(), "run")
	require.NoError(t, err)
	sessions, err := env.Service.List(context.Background(), store.SessionFilter{OwnerID: "user-1"})
	env.Close()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.PhaseModeSingle, sessions[0].PhaseControl.Mode)

	rootCmd.SetArgs([]string{"abort", sessions[0].ID})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	rootCmd.SetArgs([]string{"abort", sessions[0].ID})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "abort is idempotent")

	rootCmd.SetArgs([]string{"execute", sessions[0].ID, "--phase", "scraping"})
	assert.Error(t, rootCmd.ExecuteContext(context.Background()))
}

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		Completed:        3,
		Failed:           1,
		FailRate:         0.25,
		AvgCompletedSecs: 42,
		InProgress:       2,
		StaleSessionIDs:  []string{"abc12345-6789"},
		OpenBreakers:     []string{"jina", "perplexity"},
		LookbackHours:    24,
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "24h")
	assert.Contains(t, output, "25.0%")
	assert.Contains(t, output, "42.0s")
	assert.Contains(t, output, "jina, perplexity")
	assert.Contains(t, output, "stale abc12345-6789")
}
