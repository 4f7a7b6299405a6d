// cmd/engram is the local CLI for the engram episodic memory store. Every
// service facade operation maps to exactly one subcommand whose flags match
// the operation's parameter names. Results print as JSON on stdout; failures
// print a one-line banner on stderr and exit non-zero.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engram-sh/engram/internal/app"
	"github.com/engram-sh/engram/internal/config"
	"github.com/engram-sh/engram/internal/service"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", service.ErrorKind(err), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Hybrid episodic memory store",
		Long:          "engram stores named text episodes with versions, tags, and relations,\nsearches them by keyword and embedding similarity, and mirrors changes\nto a remote libSQL database.",
		Version:       service.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAddEpisodeCmd(),
		newUpdateEpisodeCmd(),
		newRemoveEpisodeCmd(),
		newRestoreEpisodeCmd(),
		newPurgeEpisodeCmd(),
		newListEpisodesCmd(),
		newGetEpisodeCmd(),
		newSearchKnowledgeCmd(),
		newSearchSimilarCmd(),
		newAddRelationCmd(),
		newRegisterWebhookCmd(),
		newListWebhooksCmd(),
		newRemoveWebhookCmd(),
		newSyncAllCmd(),
		newTursoStatusCmd(),
		newBackupCmd(),
		newRestoreDatabaseCmd(),
		newListBackupsCmd(),
		newStatisticsCmd(),
		newLogsCmd(),
		newClearCacheCmd(),
		newOptimizeCmd(),
		newCheckIntegrityCmd(),
		newStatusCmd(),
	)
	return root
}

// runWithApp boots the application, runs op, and renders its result as
// indented JSON. The store opens per invocation; the CLI shares the database
// file with a running MCP server through the engine's own locking.
func runWithApp(op func(ctx context.Context, a *app.App) (interface{}, error)) error {
	logger := log.New(os.Stderr, "engram: ", 0)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Printf("shutdown: %v", cerr)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	result, err := op(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v interface{}) error {
	if v == nil {
		v = map[string]interface{}{"success": true}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// okResult is the success envelope for operations without a payload.
func okResult(message string) interface{} {
	return map[string]interface{}{"success": true, "message": message}
}
