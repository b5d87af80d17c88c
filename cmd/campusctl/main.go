// Package main provides campusctl, an operator CLI for local runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"campusevents/internal/attendance"
	"campusevents/internal/auth"
	"campusevents/internal/classify"
	"campusevents/internal/config"
	"campusevents/internal/lifecycle"
	"campusevents/internal/logging"
	"campusevents/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "campusctl",
		Short:        "Operate the campus events backend",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			logging.Setup(cfg.Env, cfg.LogLevel, cfg.LogFormat, "campusctl")
		},
	}
	cmd.AddCommand(tokenCmd(), migrateCmd(), classifyCmd())
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SIGNING_KEY",
		Example: `  campusctl token --sub org-1 --role organizer
  campusctl token --sub s-42 --role student --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case auth.RoleOrganizer, auth.RoleStudent, auth.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			token, exp, err := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, ttl).Issue(subject, role)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"token": token, "expires_at": exp.UTC()})
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "Token subject (user id)")
	cmd.Flags().StringVar(&role, "role", auth.RoleOrganizer, "organizer, student or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Lifetime; defaults to TOKEN_TTL")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := store.NewDB(store.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func classifyCmd() *cobra.Command {
	var (
		evt      lifecycle.Event
		capacity int
		start    string
		end      string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Preview the attendance strategy and checkpoints for an event",
		Example: `  campusctl classify --name "AI Hackathon" --type hackathon \
    --start 2026-04-10T09:00:00Z --end 2026-04-11T18:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if evt.Start, err = parseTime(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if evt.End, err = parseTime(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if capacity > 0 {
				evt.VenueCapacity = &capacity
			}
			if evt.ID == "" {
				evt.ID = "preview"
			}
			cfg := config.Load()
			res := classify.New(cfg.Weights).Classify(classify.InputFromEvent(evt))
			cps := attendance.GenerateCheckpoints(evt.ID, res.Strategy, evt.Start, evt.End, evt.Description)
			return printJSON(cmd, map[string]any{"classification": res, "checkpoints": cps})
		},
	}
	f := cmd.Flags()
	f.StringVar(&evt.ID, "id", "", "Event id used for checkpoint ids")
	f.StringVar(&evt.Name, "name", "", "Event name")
	f.StringVar(&evt.Type, "type", "", "Event type")
	f.StringVar(&evt.Description, "description", "", "Event description")
	f.StringVar(&evt.Venue, "venue", "", "Venue name")
	f.IntVar(&capacity, "capacity", 0, "Venue capacity")
	f.StringVar(&start, "start", "", "Start time (RFC 3339)")
	f.StringVar(&end, "end", "", "End time (RFC 3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
