package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	relay "github.com/glimte/mmate-relay"
	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("registers every setting as a flag", func(t *testing.T) {
		cmd := newRootCommand()

		for _, name := range []string{
			config.KeySourceURL, config.KeySourceQueue, config.KeyDestinationURL,
			config.KeyCacheURL, config.KeyFileArchivePath, config.KeyRetry,
			config.KeyOrdered, config.KeyMetricsAddr,
		} {
			assert.NotNil(t, cmd.Flags().Lookup(name), name)
		}
	})

	t.Run("fails on missing configuration", func(t *testing.T) {
		t.Setenv("SOURCE_URL", "")
		t.Setenv("SOURCE_QUEUE", "")
		t.Setenv("DESTINATION_URL", "")

		cmd := newRootCommand()
		cmd.SetArgs([]string{"--source-queue=orders"})

		err := cmd.Execute()
		assert.ErrorIs(t, err, config.ErrInvalid)
	})
}

func TestNewHealth(t *testing.T) {
	cfg := config.Default()
	cfg.SourceQueue = "orders"
	r := relay.New(cfg)

	health := newHealth(&cfg, r, archive.NewMemoryStore())

	assert.Equal(t, []string{"destination-connection", "relay", "source-connection", "source-queue"}, health.Names())

	result := health.Check(testContext(t))
	require.Contains(t, result.Checks, "relay")
	assert.Equal(t, "relay is idle", result.Checks["relay"].Message)
	assert.Equal(t, "memory", result.Metadata["archive"])
}

func TestArchiveGetCommand(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Push(testContext(t), "order-7", contracts.Envelope{
		ID:         "order-7",
		Exchange:   "orders",
		RoutingKey: "order.created",
		Body:       []byte(`{"test": true}`),
	}))

	t.Run("prints the record", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"archive", "get", "order-7", "--file-archive-path", dir})

		require.NoError(t, cmd.Execute())

		var env contracts.Envelope
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
		assert.Equal(t, "order.created", env.RoutingKey)
		assert.Equal(t, []byte(`{"test": true}`), env.Body)
	})

	t.Run("unknown id", func(t *testing.T) {
		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"archive", "get", "missing", "--file-archive-path", dir})

		assert.ErrorContains(t, cmd.Execute(), "no archived record for missing")
	})
}

func TestQueueInspectRequiresSource(t *testing.T) {
	t.Setenv("SOURCE_URL", "")
	t.Setenv("SOURCE_QUEUE", "")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"queue", "inspect"})

	assert.ErrorIs(t, cmd.Execute(), config.ErrInvalid)
}

func TestPrintQueue(t *testing.T) {
	var out bytes.Buffer
	printQueue(&out, amqp.Queue{Name: "orders", Messages: 12, Consumers: 1})

	assert.Contains(t, out.String(), "QUEUE")
	assert.Regexp(t, `orders\s+12\s+1`, out.String())
}

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
