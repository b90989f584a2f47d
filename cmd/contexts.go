package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/channels"
	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/store"
)

func contextsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "Inspect and reset stored channel summaries",
	}
	cmd.AddCommand(contextsListCmd())
	cmd.AddCommand(contextsShowCmd())
	cmd.AddCommand(contextsResetCmd())
	return cmd
}

func withContextStore(fn func(ctx context.Context, s store.ContextStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := openContextStore(cfg.ToStoreConfig())
	if err != nil {
		return fmt.Errorf("open context store: %w", err)
	}
	defer s.Close()
	return fn(context.Background(), s)
}

func contextsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channels with a stored summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContextStore(func(ctx context.Context, s store.ContextStore) error {
				recs, err := s.List(ctx)
				if err != nil {
					return err
				}
				return printContextTable(os.Stdout, recs)
			})
		},
	}
}

func printContextTable(w io.Writer, recs []store.ContextRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No channel contexts stored.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tPENDING\tUPDATED\tMOOD\tSUMMARY")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			r.ChannelID,
			r.MessageCountSinceUpdate,
			r.LastUpdated,
			r.Mood,
			channels.Truncate(r.Summary, 60),
		)
	}
	return tw.Flush()
}

func contextsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <channel-key>",
		Short: "Show the context block injected into reply prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContextStore(func(ctx context.Context, s store.ContextStore) error {
				rec, err := s.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no context stored for %s", args[0])
				}
				cc, err := chanctx.FromRecord(*rec)
				if err != nil {
					return err
				}
				fmt.Printf("Channel:  %s\n", cc.ChannelID)
				fmt.Printf("Updated:  %s\n", rec.LastUpdated)
				fmt.Printf("Pending:  %d messages\n", cc.MessageCountSinceUpdate)
				fmt.Printf("Users:    %s\n", strings.Join(cc.ActiveUsers, ", "))
				fmt.Println()
				if block := cc.FormatForInjection(); block != "" {
					fmt.Println(block)
				} else {
					fmt.Println("(no summary yet)")
				}
				return nil
			})
		},
	}
}

func contextsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <channel-key>",
		Short: "Delete a channel's stored summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContextStore(func(ctx context.Context, s store.ContextStore) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Context for %s deleted.\n", args[0])
				return nil
			})
		},
	}
}
