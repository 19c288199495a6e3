package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and update per-pattern trust",
	}
	cmd.AddCommand(newTrustShowCmd())
	cmd.AddCommand(newTrustUpdateCmd())
	return cmd
}

// trustRow is one line of trust show output.
type trustRow struct {
	ID     string  `json:"id"`
	Alpha  float64 `json:"alpha"`
	Beta   float64 `json:"beta"`
	Mean   float64 `json:"mean"`
	Wilson float64 `json:"wilson"`
}

func newTrustShowCmd() *cobra.Command {
	var (
		snapshotPath string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "show [pattern-id...]",
		Short: "Show trust state for patterns",
		Long: `Show prints alpha, beta, the posterior mean and the Wilson lower bound for
the given patterns, or for every tracked pattern when no id is given.

With --snapshot the snapshot is published first, seeding trust for patterns
the store does not track yet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if snapshotPath != "" {
				if _, err := a.loadSnapshot(ctx, snapshotPath); err != nil {
					return err
				}
			}

			ids := args
			if len(ids) == 0 {
				ids = a.model.IDs()
			}
			rows := make([]trustRow, 0, len(ids))
			for _, id := range ids {
				st, ok := a.model.Lookup(id)
				if !ok {
					return fmt.Errorf("pattern %q is not tracked", id)
				}
				rows = append(rows, trustRow{
					ID:     id,
					Alpha:  st.Alpha,
					Beta:   st.Beta,
					Mean:   st.Mean(),
					Wilson: a.model.Score(id),
				})
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows, true)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTrustTable(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "publish this snapshot before reading trust")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func renderTrustTable(rows []trustRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PATTERN", "ALPHA", "BETA", "MEAN", "WILSON").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.ID, formatFloat(r.Alpha), formatFloat(r.Beta), formatFloat(r.Mean), formatFloat(r.Wilson))
	}
	return t.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func newTrustUpdateCmd() *cobra.Command {
	var (
		remote  bool
		natsURL string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "update <pattern-id> <outcome>",
		Short: "Record an outcome for a pattern",
		Long: `Update applies one outcome to a pattern's trust.

Outcomes: worked-perfectly, worked-with-tweaks, partial-success,
failed-minor-issues, failed-completely.

By default the update is applied to the local trust store (use the sqlite
store to persist it). With --remote it is sent over NATS to a running
"patternd serve" and the acknowledged state is printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outcome, err := trust.ParseOutcome(args[1])
			if err != nil {
				return err
			}
			ev := trust.Event{PatternID: args[0], Outcome: outcome}
			if err := ev.Validate(); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if remote {
				if natsURL != "" {
					cfg.Events.URL = natsURL
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				ack, err := sendRemote(ctx, cfg.Events, ev)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), ack, false)
			}

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			st, err := a.engine.RecordOutcome(ctx, ev)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), events.Ack{
				OK:        true,
				PatternID: ev.PatternID,
				Alpha:     st.Alpha,
				Beta:      st.Beta,
			}, false)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "send the outcome to a running server over NATS")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL (default events.url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "remote acknowledgement timeout")
	return cmd
}

// connectNATS dials the configured server with the optional token.
func connectNATS(cfg config.EventsConfig, opts ...nats.Option) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("events.url is not set")
	}
	opts = append([]nats.Option{nats.Name("patternd")}, opts...)
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

func sendRemote(ctx context.Context, cfg config.EventsConfig, ev trust.Event) (events.Ack, error) {
	nc, err := connectNATS(cfg)
	if err != nil {
		return events.Ack{}, err
	}
	defer nc.Close()

	subject := cfg.Subject
	if subject == "" {
		subject = events.DefaultSubject
	}
	return events.Send(ctx, nc, subject, ev)
}
