package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List detected and registered patterns and whether they can be promoted",
	RunE:  runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	patterns, err := rt.stores.Patterns.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}
	threshold := rt.watchdog.PromotionThreshold()
	registry := rt.watchdog.Registry()

	seen := make(map[string]struct{}, len(patterns))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tSEVERITY\tCOUNT\tLAST SEEN\tSTRATEGY\tPROMOTABLE")
	for _, p := range patterns {
		seen[p.PatternKey] = struct{}{}
		strategy := p.AutoFixStrategy
		if s, ok := registry.Lookup(p.PatternKey); ok {
			strategy = string(s.Kind)
		}
		promotable := strategy == "" && p.PromotionEligible(threshold)
		if strategy == "" {
			strategy = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\n",
			p.PatternKey, p.Severity, p.OccurrenceCount, p.LastSeen.Format(time.RFC3339), strategy, promotable)
	}
	// Registered strategies that have not fired yet.
	for _, key := range registry.Patterns() {
		if _, ok := seen[key]; ok {
			continue
		}
		s, _ := registry.Lookup(key)
		fmt.Fprintf(w, "%s\t-\t0\t-\t%s\tfalse\n", key, s.Kind)
	}
	return w.Flush()
}
