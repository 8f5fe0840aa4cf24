package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/identity"
)

// NewProfileCommand creates the profile command with its admin subcommands.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage participant identity profiles",
		Long: `Manage participant identity profiles. Only registered, unbanned
participants may submit knocks.

Example:
  knockd profile register alice
  knockd profile ban mallory
  knockd profile show alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(profileSubcommand(rootOpts, "register", "Register a participant",
		func(ctx context.Context, r *identity.BadgerRegistry, p string) error {
			_, err := r.Register(ctx, p)
			return err
		}))
	cmd.AddCommand(profileSubcommand(rootOpts, "ban", "Ban a participant",
		func(ctx context.Context, r *identity.BadgerRegistry, p string) error { return r.Ban(ctx, p) }))
	cmd.AddCommand(profileSubcommand(rootOpts, "unban", "Lift a participant's ban",
		func(ctx context.Context, r *identity.BadgerRegistry, p string) error { return r.Unban(ctx, p) }))
	cmd.AddCommand(profileSubcommand(rootOpts, "show", "Show a participant's profile", nil))

	return cmd
}

// profileSubcommand runs action (if any) and prints the resulting profile.
func profileSubcommand(rootOpts *RootOptions, use, short string, action func(context.Context, *identity.BadgerRegistry, string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <participant>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				if action != nil {
					if err := action(ctx, rt.registry, args[0]); err != nil {
						return profileFailure(rt.out, err)
					}
				}
				p, err := rt.registry.Profile(ctx, args[0])
				if err != nil {
					return profileFailure(rt.out, err)
				}
				return rt.out.Emit(p, func(w io.Writer) {
					state := "valid"
					switch {
					case !p.Registered:
						state = "unregistered"
					case p.Banned:
						state = "banned"
					}
					fmt.Fprintf(w, "%s (%s): sent %d, accepted %d, rejected %d\n",
						p.Participant, state, p.KnocksSent, p.Accepted, p.Rejected)
				})
			})
		},
	}
}

func profileFailure(out *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, identity.ErrUnknownParticipant):
		_ = out.Error("UNKNOWN_PARTICIPANT", err.Error(), nil)
		return WrapExitError(ExitFailure, "unknown participant", err)
	case errors.Is(err, identity.ErrAlreadyRegistered):
		_ = out.Error("ALREADY_REGISTERED", err.Error(), nil)
		return WrapExitError(ExitFailure, "already registered", err)
	case errors.Is(err, identity.ErrReservedParticipant):
		_ = out.Error(string(engine.ErrCodeInvalidArgument), err.Error(), nil)
		return WrapExitError(ExitFailure, "reserved participant id", err)
	}
	return out.Refused(err)
}
