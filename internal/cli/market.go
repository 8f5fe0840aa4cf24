package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/market"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	From    string
	To      string
	Bid     string
	Content string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a knock with an escrowed bid",
		Long: `Submit a knock from --from to --to. The bid is given in native units
and escrowed until the knock is refunded, accepted, rejected or expires.

Example:
  knockd submit --from alice --to rita --bid 0.02 --content ipfs://Qm...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				bid, err := market.ParseEther(opts.Bid)
				if err != nil {
					_ = rt.out.Error(ErrCodeBadArgument, err.Error(), nil)
					return WrapExitError(ExitCommandError, "invalid --bid", err)
				}
				k, err := rt.engine.SubmitKnock(ctx, engine.SubmitRequest{
					Sender:    opts.From,
					Receiver:  opts.To,
					Bid:       bid,
					ContentID: opts.Content,
				})
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(k, func(w io.Writer) {
					fmt.Fprintln(w, "Knock submitted.")
					writeKnock(w, k)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "sender participant id (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "receiver participant id (required)")
	cmd.Flags().StringVar(&opts.Bid, "bid", "", "bid in native units, e.g. 0.02 (required)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "opaque content reference")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("bid")

	return cmd
}

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	*RootOptions
	Day int64
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle <receiver>",
		Short: "Settle a receiver's daily bucket",
		Long: `Settle the receiver's bucket for yesterday, or for --day (days since the
Unix epoch). The top bids become actionable; the rest are refunded.

Example:
  knockd settle rita
  knockd settle rita --day 20001`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				var (
					res engine.SettleResult
					err error
				)
				if cmd.Flags().Changed("day") {
					res, err = rt.engine.SettleDay(ctx, args[0], market.Day(opts.Day))
				} else {
					res, err = rt.engine.Settle(ctx, args[0])
				}
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(res, func(w io.Writer) {
					fmt.Fprintf(w, "Settled %s for %s (%d slots).\n", res.Receiver, res.Day, res.Slots)
					fmt.Fprintf(w, "  winners:  %v\n", res.Winners)
					fmt.Fprintf(w, "  refunded: %v\n", res.Losers)
					for _, u := range res.UnpaidRefunds {
						fmt.Fprintf(w, "  unpaid:   knock %d owes %s to %s (%s)\n", u.KnockID, market.FormatEther(u.Amount), u.Sender, u.Reason)
					}
				})
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Day, "day", 0, "day to settle (default: yesterday)")

	return cmd
}

// DispositionOptions holds flags for accept, reject and expire.
type DispositionOptions struct {
	*RootOptions
	As string
}

type disposeFunc func(e *engine.Engine) func(ctx context.Context, caller string, id int64) (engine.Disposition, error)

func newDispositionCommand(rootOpts *RootOptions, use, short, long string, callerRequired bool, fn disposeFunc) *cobra.Command {
	opts := &DispositionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           use + " <knock-id>",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKnockID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				d, err := fn(rt.engine)(ctx, opts.As, id)
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(d, func(w io.Writer) {
					writeKnock(w, d.Knock)
					for _, p := range d.Payments {
						fmt.Fprintf(w, "  paid %s to %s (%s)\n", market.FormatEther(p.Amount), p.Payee, p.Kind)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "calling participant")
	if callerRequired {
		_ = cmd.MarkFlagRequired("as")
	}
	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	return newDispositionCommand(rootOpts, "accept", "Accept a settled knock",
		`Accept a settled knock as its receiver. The bid is split 40% to the
sender, 40% to the receiver and 20% to the fee recipient.

Example:
  knockd accept 7 --as rita`,
		true, func(e *engine.Engine) func(context.Context, string, int64) (engine.Disposition, error) { return e.Accept })
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return newDispositionCommand(rootOpts, "reject", "Reject a settled knock",
		`Reject a settled knock as its receiver. The bid is split 80% to the
receiver and 20% to the fee recipient.

Example:
  knockd reject 7 --as rita`,
		true, func(e *engine.Engine) func(context.Context, string, int64) (engine.Disposition, error) { return e.Reject })
}

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	return newDispositionCommand(rootOpts, "expire", "Refund a settled knock left unanswered",
		`Return the full bid of a settled knock to its sender once seven days have
passed since it was submitted. Anyone may call it.

Example:
  knockd expire 7`,
		false, func(e *engine.Engine) func(context.Context, string, int64) (engine.Disposition, error) {
			return e.ClaimExpired
		})
}

// NewSlotsCommand creates the slots command.
func NewSlotsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slots <receiver> [n]",
		Short: "Show or set a receiver's daily slots",
		Long: `Show a receiver's daily slot count, or set it to n (1-100). The new
value applies to every settlement run after it, including buckets filed earlier.

Example:
  knockd slots rita
  knockd slots rita 3`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var slots int
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return WrapExitError(ExitCommandError, "slots must be an integer", err)
				}
				slots = n
			}
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				var (
					st  market.Settings
					err error
				)
				if len(args) == 2 {
					st, err = rt.engine.SetDailySlots(ctx, args[0], slots)
				} else {
					st, err = rt.engine.Settings(ctx, args[0])
				}
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(st, func(w io.Writer) {
					suffix := ""
					if !st.IsConfigured {
						suffix = " (default)"
					}
					fmt.Fprintf(w, "%s: %d daily slots%s\n", st.Receiver, st.DailySlots, suffix)
				})
			})
		},
	}
}

// RefundsOptions holds flags for the refunds command.
type RefundsOptions struct {
	*RootOptions
	Sender string
}

// NewRefundsCommand creates the refunds command and its retry subcommand.
func NewRefundsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefundsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "refunds",
		Short:         "List settlement refunds that could not be paid",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				refunds, err := rt.engine.UnpaidRefunds(ctx, opts.Sender)
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(refunds, func(w io.Writer) {
					if len(refunds) == 0 {
						fmt.Fprintln(w, "No unpaid refunds.")
						return
					}
					for _, r := range refunds {
						fmt.Fprintf(w, "knock %d: %s owed to %s (day %s): %s\n", r.KnockID, market.FormatEther(r.Amount), r.Sender, r.Day, r.Reason)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Sender, "sender", "", "only refunds owed to this sender")

	cmd.AddCommand(&cobra.Command{
		Use:           "retry <knock-id>",
		Short:         "Retry paying an unpaid refund",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKnockID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				p, err := rt.engine.RetryRefund(ctx, id)
				if err != nil {
					return rt.out.Refused(err)
				}
				return rt.out.Emit(p, func(w io.Writer) {
					fmt.Fprintf(w, "Refunded %s to %s for knock %d.\n", market.FormatEther(p.Amount), p.Payee, p.KnockID)
				})
			})
		},
	})

	return cmd
}

func parseKnockID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid knock id %q", s))
	}
	return id, nil
}

func writeKnock(w io.Writer, k market.Knock) {
	fmt.Fprintf(w, "knock %d  %s -> %s  bid %s  %s  (day %s)\n",
		k.ID, k.Sender, k.Receiver, market.FormatEther(k.Bid), k.Status, k.SettleDay)
}
