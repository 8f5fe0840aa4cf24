package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/knock/internal/market"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <knock-id>",
		Short:         "Show a knock and its transfers",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKnockID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				k, err := rt.engine.Knock(ctx, id)
				if err != nil {
					return rt.out.Refused(err)
				}
				transfers, err := rt.engine.Transfers(ctx, id)
				if err != nil {
					return rt.out.Refused(err)
				}
				view := struct {
					market.Knock
					Transfers []market.Payment `json:"transfers"`
				}{k, transfers}
				return rt.out.Emit(view, func(w io.Writer) {
					writeKnock(w, k)
					if k.ContentID != "" {
						fmt.Fprintf(w, "  content: %s\n", k.ContentID)
					}
					fmt.Fprintf(w, "  created: %s\n", k.CreatedAt.Format("2006-01-02 15:04:05 MST"))
					for _, p := range transfers {
						fmt.Fprintf(w, "  paid %s to %s (%s)\n", market.FormatEther(p.Amount), p.Payee, p.Kind)
					}
				})
			})
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending <sender>",
		Short:         "List a sender's knocks awaiting settlement",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				knocks, err := rt.engine.PendingKnocks(ctx, args[0])
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(knocks, func(w io.Writer) {
					fmt.Fprintf(w, "%d of %d pending slots used\n", len(knocks), market.MaxPendingKnocks)
					writeKnocks(w, knocks)
				})
			})
		},
	}
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "queue <receiver>",
		Short:         "List a receiver's settled knocks awaiting a decision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				knocks, err := rt.engine.SettledKnocks(ctx, args[0])
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(knocks, func(w io.Writer) {
					if len(knocks) == 0 {
						fmt.Fprintln(w, "Queue is empty.")
						return
					}
					for _, k := range knocks {
						writeKnock(w, k)
						fmt.Fprintf(w, "  expires: %s\n", k.ExpiresAt().Format("2006-01-02 15:04:05 MST"))
					}
				})
			})
		},
	}
}

// BucketOptions holds flags for the bucket command.
type BucketOptions struct {
	*RootOptions
	Day int64
}

// NewBucketCommand creates the bucket command.
func NewBucketCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BucketOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "bucket <receiver>",
		Short:         "Show the knocks filed for a receiver on a day",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				day := rt.engine.CurrentDay()
				if cmd.Flags().Changed("day") {
					day = market.Day(opts.Day)
				}
				entries, err := rt.engine.DayBucket(ctx, args[0], day)
				if err != nil {
					return rt.out.Refused(err)
				}
				settled, err := rt.engine.IsDaySettled(ctx, args[0], day)
				if err != nil {
					return rt.out.Refused(err)
				}
				view := struct {
					Day     market.Day           `json:"day"`
					Settled bool                 `json:"settled"`
					Entries []market.BucketEntry `json:"entries"`
				}{day, settled, entries}
				return rt.out.Emit(view, func(w io.Writer) {
					state := "open"
					if settled {
						state = "settled"
					}
					fmt.Fprintf(w, "%s bucket for %s (%s): %d knocks\n", args[0], day, state, len(entries))
					for _, e := range entries {
						fmt.Fprintf(w, "  #%d knock %d from %s bid %s\n", e.Position, e.KnockID, e.Sender, market.FormatEther(e.Bid))
					}
				})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Day, "day", 0, "day to show (default: today)")

	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats <receiver>",
		Short:         "Show a receiver's aggregate counters",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				st, err := rt.engine.Stats(ctx, args[0])
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(st, func(w io.Writer) {
					fmt.Fprintf(w, "%s: received %d (total bids %s), accepted %d, rejected %d\n",
						st.Receiver, st.TotalReceived, market.FormatEther(st.TotalBids), st.Accepted, st.Rejected)
				})
			})
		},
	}
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's ledger balance",
		Long: `Show an account's ledger balance. The escrow account is "@escrow".

Example:
  knockd balance alice
  knockd balance @escrow`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				b, err := rt.engine.Balance(ctx, args[0])
				if err != nil {
					return rt.out.Refused(err)
				}
				view := map[string]string{"account": args[0], "wei": b.String(), "ether": market.FormatEther(b)}
				return rt.out.Emit(view, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", args[0], market.FormatEther(b))
				})
			})
		},
	}
}

// NewDayCommand creates the day command.
func NewDayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "day",
		Short:         "Show the current market day",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				day := rt.engine.CurrentDay()
				view := map[string]any{"day": day, "date": day.String()}
				return rt.out.Emit(view, func(w io.Writer) {
					fmt.Fprintf(w, "day %d (%s)\n", int64(day), day)
				})
			})
		},
	}
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
	Limit int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "events",
		Short:         "Print the event log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				evs, err := rt.engine.Events(ctx, opts.After, opts.Limit)
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(evs, func(w io.Writer) {
					for i := range evs {
						line, err := market.TraceLine(&evs[i])
						if err != nil {
							fmt.Fprintf(w, "seq %d: %v\n", evs[i].Seq, err)
							continue
						}
						fmt.Fprintln(w, string(line))
					}
				})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum events to print (0 = all)")

	return cmd
}

func writeKnocks(w io.Writer, knocks []market.Knock) {
	for _, k := range knocks {
		writeKnock(w, k)
	}
}
