package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"riosearch/agentutil"
	"riosearch/internal/audit"
)

// verifyReport is printed by -verify-audit.
type verifyReport struct {
	Chain    audit.ChainStatus `json:"chain"`
	Outcomes map[string]int    `json:"recent_outcomes"`
}

// runVerify checks the audit chain, summarizes the most recent query
// outcomes and returns the process exit code.
func runVerify(ctx context.Context, store *audit.Store, recent int, asJSON bool, w io.Writer) int {
	status, chainErr := agentutil.CheckAuditChain(ctx, store)

	events, err := store.Query(ctx, audit.QueryOptions{EventType: audit.EventTypeQueryOutcome, Limit: recent})
	if err != nil {
		fmt.Fprintf(w, "query audit events: %v\n", err)
		return 1
	}
	report := verifyReport{Chain: status, Outcomes: make(map[string]int)}
	for _, e := range events {
		if e.Outcome != nil {
			report.Outcomes[e.Outcome.Status]++
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return 1
		}
	} else {
		if chainErr != nil {
			fmt.Fprintf(w, "audit chain: BROKEN (%v)\n", chainErr)
		} else {
			fmt.Fprintf(w, "audit chain: OK (%d events)\n", status.TotalEvents)
		}
		for _, s := range []string{audit.StatusAnswered, audit.StatusEmergency, audit.StatusFallback} {
			fmt.Fprintf(w, "  %-10s %d\n", s, report.Outcomes[s])
		}
	}

	if chainErr != nil {
		return 1
	}
	return 0
}
