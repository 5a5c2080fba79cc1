package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/app"
	"github.com/blackmichael/bluesky-federation/internal/config"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/outbound"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fedctl",
		Short: "Operate the BlueSky federation sync",
		Long: `fedctl inspects and drives the federation sync against the database
configured through the usual environment variables (DATABASE_DRIVER,
DATABASE_URL, FIREHOSE_URL, PDS_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newCursorCommand(opts),
		newSyncCommand(opts),
		newLoginCommand(opts),
		newActCommand(opts),
		newNotificationsCommand(opts),
	)
	return cmd
}

// withApp loads configuration, wires the components and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCursorCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cursor",
		Short: "Show the stored firehose cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				c, err := a.Store.GetCursor(ctx, federation.CursorService)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "service:          %s\n", c.Service)
				fmt.Fprintf(out, "position:         %d", c.Position)
				if c.Position > 0 {
					fmt.Fprintf(out, " (%s)", time.UnixMicro(c.Position).UTC().Format(time.RFC3339))
				}
				fmt.Fprintln(out)
				if !c.LastRunAt.IsZero() {
					fmt.Fprintf(out, "last run:         %s\n", c.LastRunAt.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "events processed: %d\n", c.EventsProcessed)
				if c.LastError != "" {
					fmt.Fprintf(out, "last error:       %s\n", c.LastError)
				}
				return nil
			})
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one polling cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Poller.RunOnce(ctx)
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var userID, handle, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Create a PDS session for a local user",
		Long: `Authenticate a local user against their PDS and bind the user's profile
to the returned DID. Use an App Password, not your account password.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if handle == "" || password == "" {
				return fmt.Errorf("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Logging in as %s...\n", handle)
				sess, err := a.Agent.Login(ctx, userID, handle, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Authenticated as %s\n", sess.DID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	cmd.Flags().StringVar(&handle, "handle", envOrDefault("BLUESKY_HANDLE", ""), "BlueSky handle (e.g. user.bsky.social)")
	cmd.Flags().StringVar(&password, "password", envOrDefault("BLUESKY_APP_PASSWORD", ""), "BlueSky app password")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newActCommand(opts *rootOptions) *cobra.Command {
	var userID string
	var target outbound.Target

	cmd := &cobra.Command{
		Use:   "act <action>",
		Short: "Perform an action for a local user",
		Long: `Write an action through to the user's PDS and mirror it locally.

Actions: like, unlike, repost, unrepost, follow, unfollow, reply, post.

Example:
  fedctl act like --user alice --uri at://did:plc:xyz/app.bsky.feed.post/3k --cid bafy...
  fedctl act follow --user alice --did did:plc:xyz
  fedctl act post --user alice --text "hello"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := outbound.ParseAction(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				ref, err := a.Agent.Perform(ctx, action, userID, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", action, ref.URI)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	cmd.Flags().StringVar(&target.URI, "uri", "", "AT-URI of the target post")
	cmd.Flags().StringVar(&target.CID, "cid", "", "CID of the target post")
	cmd.Flags().StringVar(&target.RootURI, "root-uri", "", "AT-URI of the thread root (replies)")
	cmd.Flags().StringVar(&target.RootCID, "root-cid", "", "CID of the thread root (replies)")
	cmd.Flags().StringVar(&target.DID, "did", "", "DID of the target account (follows)")
	cmd.Flags().StringVar(&target.Text, "text", "", "post text (reply, post)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newNotificationsCommand(opts *rootOptions) *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List a local user's newest notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				list, err := a.Store.ListNotifications(ctx, userID, limit)
				if err != nil {
					return err
				}
				for _, n := range list {
					actor := n.ActorHandle
					if actor == "" {
						actor = n.ActorDID
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-7s %s %s\n",
						n.CreatedAt.Format(time.RFC3339), n.Reason, actor, n.SubjectURI)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of notifications to show")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
