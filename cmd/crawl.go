package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/discord-event-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs every enabled
// crawler until the process is interrupted.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Starts the crawlers",
		Long: `Connects to the Discord gateway, waits until every configured guild is
available, then crawls channel history and audit logs into the configured
store. The operator API is served alongside when server.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	srv, err := server.Build(appInstance.Config(), appInstance.Store(), appInstance.Logger())
	if err != nil {
		return fmt.Errorf("build crawlers: %w", err)
	}
	if err := srv.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run crawlers: %w", err)
	}

	appInstance.Logger().Info("Crawl command finished")
	return nil
}
