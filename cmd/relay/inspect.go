package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/internal/config"
	"github.com/glimte/mmate-relay/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
)

func newArchiveCommand() *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Read archived messages",
	}

	getCmd := &cobra.Command{
		Use:   "get <message-id>",
		Short: "Print the archived record of a message as JSON",
		Long: `Print the archived record of a message as JSON. Returned messages are
archived under "returned-<message-id>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(cmd.Flags())
			if err != nil {
				return err
			}

			store, err := archive.Open(archive.Options{
				CacheURL:    cfg.CacheURL,
				FileEnabled: cfg.FileArchive,
				FilePath:    cfg.FileArchivePath,
				Logger:      discardLogger(),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			env, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, archive.ErrNotFound) {
				return fmt.Errorf("no archived record for %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(env)
		},
	}
	config.RegisterArchiveFlags(getCmd.Flags())

	archiveCmd.AddCommand(getCmd)
	return archiveCmd
}

func newQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the source queue",
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the depth and consumer count of the source queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.SourceURL == "" || cfg.SourceQueue == "" {
				return fmt.Errorf("%w: SOURCE_URL and SOURCE_QUEUE are required", config.ErrInvalid)
			}

			conn, err := amqp.DialConfig(cfg.SourceURL, amqp.Config{
				Heartbeat: 10 * time.Second,
				Dial:      amqp.DefaultDial(10 * time.Second),
			})
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", rabbitmq.SanitizeURL(cfg.SourceURL), err)
			}
			defer conn.Close()

			q, err := rabbitmq.NewTopologyManager(conn).InspectQueue(cmd.Context(), cfg.SourceQueue)
			if err != nil {
				return err
			}

			printQueue(cmd.OutOrStdout(), q)
			return nil
		},
	}
	config.RegisterSourceFlags(inspectCmd.Flags())

	queueCmd.AddCommand(inspectCmd)
	return queueCmd
}

func printQueue(out io.Writer, q amqp.Queue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tMESSAGES\tCONSUMERS")
	fmt.Fprintf(w, "%s\t%d\t%d\n", q.Name, q.Messages, q.Consumers)
	w.Flush()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
