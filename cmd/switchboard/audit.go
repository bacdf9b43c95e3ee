// ABOUTME: The audit command group reads the tool and task audit log
// ABOUTME: list supports the same filters as GET /api/audit; stats prints the counters

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/audit"
)

type auditPage struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
}

func (c *cli) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	var (
		limit  int
		agent  string
		status string
		tool   string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if agent != "" {
				q.Set("agent", agent)
			}
			if status != "" {
				q.Set("status", status)
			}
			if tool != "" {
				q.Set("tool", tool)
			}
			path := "/api/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var page auditPage
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &page); err != nil {
				return err
			}
			if len(page.Entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "  (no entries)")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  SEQ\tTIME\tAGENT\tACTION\tTOOL\tSTATUS\tDETAIL")
			for _, e := range page.Entries {
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Agent, e.Action, e.Tool, e.Status, truncate(e.Detail, 60))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries (server default 100)")
	list.Flags().StringVar(&agent, "agent", "", "only this agent")
	list.Flags().StringVar(&status, "status", "", "executed, denied, failed or pending")
	list.Flags().StringVar(&tool, "tool", "", "only this tool")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show audit counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			var s audit.Stats
			if err := client.do(cmd.Context(), http.MethodGet, "/api/audit/stats", nil, &s); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  total:    %d\n", s.Total)
			fmt.Fprintf(out, "  executed: %d\n", s.Executed)
			fmt.Fprintf(out, "  denied:   %d\n", s.Denied)
			fmt.Fprintf(out, "  failed:   %d\n", s.Failed)
			fmt.Fprintf(out, "  pending:  %d\n", s.Pending)

			agents := make([]string, 0, len(s.ByAgent))
			for a := range s.ByAgent {
				agents = append(agents, a)
			}
			sort.Strings(agents)
			for _, a := range agents {
				fmt.Fprintf(out, "  %-9s %d\n", a+":", s.ByAgent[a])
			}
			return nil
		},
	}

	cmd.AddCommand(list, stats)
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
