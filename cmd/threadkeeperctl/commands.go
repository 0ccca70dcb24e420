package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/threadkeeper/internal/config"
	"github.com/h1v3-io/threadkeeper/internal/logbuf"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

func newRootCmd() *cobra.Command {
	c := &client{}
	root := &cobra.Command{
		Use:           "threadkeeperctl",
		Short:         "Inspect and operate a running threadkeeperd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&c.addr, "addr", envOr("THREADKEEPER_API_ADDR", "http://localhost:8080"), "daemon API address")
	root.PersistentFlags().StringVar(&c.key, "key", envOr("THREADKEEPER_API_KEY", ""), "API key for authentication")

	root.AddCommand(
		newHealthCmd(c),
		newGuildsCmd(c),
		newJobsCmd(c),
		newReconcileCmd(c),
		newLogsCmd(c),
		newGlyphCmd(),
		newConfigCmd(),
	)
	return root
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.get(cmd.Context(), "/api/health")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newGuildsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "guilds",
		Short: "List guilds the bot is a member of",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.get(cmd.Context(), "/api/guilds")
			if err != nil {
				return err
			}
			var ids []string
			if err := json.Unmarshal(body, &ids); err != nil {
				return fmt.Errorf("decode guilds: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newJobsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.get(cmd.Context(), "/api/jobs")
			if err != nil {
				return err
			}
			var jobs []struct {
				Name     string    `json:"name"`
				Schedule string    `json:"schedule"`
				Next     time.Time `json:"next"`
			}
			if err := json.Unmarshal(body, &jobs); err != nil {
				return fmt.Errorf("decode jobs: %w", err)
			}
			for _, j := range jobs {
				next := "-"
				if !j.Next.IsZero() {
					next = j.Next.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-20s %s\n", j.Name, j.Schedule, next)
			}
			return nil
		},
	}
}

func newReconcileCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a status glyph reconcile sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.post(cmd.Context(), "/api/reconcile")
			if err != nil {
				return err
			}
			var reports []struct {
				GuildID string `json:"guild_id"`
				Scanned int    `json:"scanned"`
				Renamed int    `json:"renamed"`
				Failed  int    `json:"failed"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(body, &reports); err != nil {
				return fmt.Errorf("decode reconcile: %w", err)
			}
			for _, r := range reports {
				if r.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  error: %s\n", r.GuildID, r.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  scanned=%d renamed=%d failed=%d\n", r.GuildID, r.Scanned, r.Renamed, r.Failed)
			}
			return nil
		},
	}
}

func newLogsCmd(c *client) *cobra.Command {
	var (
		level     string
		component string
		requestID string
		since     string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if level != "" {
				q.Set("level", level)
			}
			if component != "" {
				q.Set("component", component)
			}
			if requestID != "" {
				q.Set("request_id", requestID)
			}
			if since != "" {
				q.Set("since", since)
			}
			body, err := c.get(cmd.Context(), "/api/logs?"+q.Encode())
			if err != nil {
				return err
			}
			var entries []logbuf.Entry
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("decode logs: %w", err)
			}
			for _, e := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), formatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&component, "component", "", "only entries from this component")
	cmd.Flags().StringVar(&requestID, "request-id", "", "only entries for this request")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than a duration (e.g. 15m)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max entries")
	return cmd
}

func formatEntry(e logbuf.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", e.Time.Local().Format("15:04:05"), e.Level)
	if e.Component != "" {
		fmt.Fprintf(&b, " [%s]", e.Component)
	}
	b.WriteString(" " + e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

func newGlyphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "glyph <pending|resolved> <title>",
		Short: "Print a thread title with the status glyph applied",
		Long: `Print the thread title the bot would write for the given status.
Runs offline; useful for checking how an existing title will be rewritten.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := thread.ParseStatus(args[0])
			if !ok {
				return fmt.Errorf("unknown status %q (want pending or resolved)", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), thread.Normalize(strings.Join(args[1:], " "), st))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	})
	return cmd
}
