package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	"github.com/JakeFAU/discord-event-crawler/internal/sources"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// newHistoryCmd creates the 'history' subcommand, which reports the persisted
// crawl coverage of one channel.
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <channel_id>",
		Short: "Shows which part of a channel has been crawled",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryCommand,
	}
}

func runHistoryCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	channelID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}

	cov, err := sources.LoadCoverage(cmd.Context(), appInstance.Store(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("channel %d has never been crawled", channelID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "channel: %d\n", cov.ChannelID)
	fmt.Fprintf(out, "cursor:  %d (%s)\n", cov.Cursor, snowflake.Time(cov.Cursor).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "history: %s\n", cov.History)
	if cov.HasHole {
		fmt.Fprintf(out, "hole:    resume backfill at %d\n", cov.Hole)
	} else {
		fmt.Fprintln(out, "hole:    none")
	}
	return nil
}
