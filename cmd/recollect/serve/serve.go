// Package servecmder provides the serve command for running the recollect
// MCP and API servers.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/api"
	mcpapi "github.com/recollectco/recollect/api/mcp"
	"github.com/recollectco/recollect/pkg/blob"
	"github.com/recollectco/recollect/pkg/config"
	"github.com/recollectco/recollect/pkg/dotdir"
	"github.com/recollectco/recollect/pkg/eventstream"
	"github.com/recollectco/recollect/pkg/eventstream/kafka"
	"github.com/recollectco/recollect/pkg/eventstream/nop"
	sqliteledger "github.com/recollectco/recollect/pkg/ledger/sqlite"
	"github.com/recollectco/recollect/pkg/logger"
	"github.com/recollectco/recollect/pkg/memories"
	"github.com/recollectco/recollect/pkg/memstore"
	"github.com/recollectco/recollect/pkg/memstore/inmemory"
	"github.com/recollectco/recollect/pkg/memstore/mem0"
	"github.com/recollectco/recollect/pkg/worker"
)

type ServeCommander struct {
	listen        string
	sqlitePath    string
	blobsPath     string
	storeProvider string
	storeTarget   string
	storeAPIKey   string
	eventsEnabled bool
	eventsBrokers []string
	eventsTopic   string
	configDir     string
	debug         bool
	logger        *zap.Logger
}

const serveLongDesc string = `Run the recollect servers.

Starts the API server with the MCP endpoint mounted at
/mcp/{client_name}/sse/{user_id}. Tool-calling clients connect to the MCP
endpoint; the rest of the API inspects and manages the memory ledger.

Flag values default to the config.toml in the .recollect/ directory and
RECOLLECT_* environment variables; flags take precedence.`

const serveShortDesc string = "Run the recollect servers"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			if err := cmder.applyConfig(cmd); err != nil {
				return err
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address for the API server to listen on")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite ledger database (default: in-memory)")
	cmd.Flags().StringVar(&cmder.blobsPath, "blobs", "", "Directory for externalized memory payloads")
	cmd.Flags().StringVar(&cmder.storeProvider, "store-provider", "", "Memory store provider (inmemory, mem0)")
	cmd.Flags().StringVar(&cmder.storeTarget, "store-target", "", "Memory store URL")
	cmd.Flags().BoolVar(&cmder.eventsEnabled, "events", false, "Publish audit events to Kafka")
	cmd.Flags().StringSliceVar(&cmder.eventsBrokers, "events-brokers", nil, "Kafka bootstrap broker addresses")
	cmd.Flags().StringVar(&cmder.eventsTopic, "events-topic", "", "Kafka topic for audit events")

	return cmd
}

// applyConfig fills unset flags from the viper-resolved configuration
// (config.toml plus RECOLLECT_* environment variables).
func (c *ServeCommander) applyConfig(cmd *cobra.Command) error {
	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}

	stringSetting(cmd, "listen", &c.listen, v, "api.listen")
	stringSetting(cmd, "sqlite", &c.sqlitePath, v, "storage.sqlite_path")
	stringSetting(cmd, "blobs", &c.blobsPath, v, "blobs.base_path")
	stringSetting(cmd, "store-provider", &c.storeProvider, v, "memory_store.provider")
	stringSetting(cmd, "store-target", &c.storeTarget, v, "memory_store.target")
	stringSetting(cmd, "events-topic", &c.eventsTopic, v, "events.topic")

	c.storeAPIKey = v.GetString("memory_store.api_key")

	if !cmd.Flags().Changed("events") {
		c.eventsEnabled = v.GetBool("events.enabled")
	}
	if !cmd.Flags().Changed("events-brokers") {
		c.eventsBrokers = v.GetStringSlice("events.brokers")
	}

	return nil
}

func stringSetting(cmd *cobra.Command, flag string, dst *string, v *viper.Viper, key string) {
	if !cmd.Flags().Changed(flag) {
		*dst = v.GetString(key)
	}
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	// Ledger storage
	store, err := c.newLedgerStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// External memory store
	memClient, err := c.newMemstoreClient()
	if err != nil {
		return err
	}
	defer memClient.Close()

	// Blob store for externalized payloads
	blobs, err := c.newBlobStore()
	if err != nil {
		return err
	}

	// Audit eventstream
	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	pool, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating audit worker pool: %w", err)
	}
	defer pool.Close()

	service, err := memories.NewService(memories.Config{
		Resolver: store,
		Ledger:   store,
		Store:    memClient,
		Blobs:    blobs,
		Audit:    pool,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating memory service: %w", err)
	}

	mcpServer, err := mcpapi.NewServer(mcpapi.Config{
		Service: service,
		Logger:  c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr: c.listen,
	}, store, mcpServer.Handler(), c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

func (c *ServeCommander) newLedgerStore() (*sqliteledger.Store, error) {
	path := c.sqlitePath
	if path == "" {
		path = ":memory:"
		c.logger.Info("using in-memory ledger storage")
	} else {
		c.logger.Info("using SQLite ledger storage", zap.String("path", path))
	}

	store, err := sqliteledger.New(path)
	if err != nil {
		return nil, fmt.Errorf("creating ledger store: %w", err)
	}
	return store, nil
}

func (c *ServeCommander) newMemstoreClient() (memstore.Client, error) {
	switch c.storeProvider {
	case "mem0":
		c.logger.Info("using mem0 memory store", zap.String("target", c.storeTarget))
		return mem0.NewClient(mem0.Config{
			URL:    c.storeTarget,
			APIKey: c.storeAPIKey,
		}, c.logger)

	case "", "inmemory":
		c.logger.Info("using in-memory memory store")
		return inmemory.NewClient(), nil

	default:
		return nil, fmt.Errorf("unknown memory store provider: %q", c.storeProvider)
	}
}

func (c *ServeCommander) newBlobStore() (*blob.Store, error) {
	path := c.blobsPath
	if path == "" {
		target, err := dotdir.NewManager().Target(c.configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving blob directory: %w", err)
		}
		path = filepath.Join(target, "user_files")
	}

	c.logger.Info("using blob storage", zap.String("path", path))

	blobs, err := blob.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	return blobs, nil
}

func (c *ServeCommander) newPublisher() (eventstream.Publisher, error) {
	if !c.eventsEnabled {
		return nop.NewPublisher(), nil
	}

	if len(c.eventsBrokers) == 0 {
		return nil, fmt.Errorf("events enabled but no brokers configured")
	}

	c.logger.Info("publishing audit events to Kafka",
		zap.Strings("brokers", c.eventsBrokers),
		zap.String("topic", c.eventsTopic),
	)

	return kafka.NewPublisher(kafka.Config{
		Brokers: c.eventsBrokers,
		Topic:   c.eventsTopic,
	}, c.logger)
}
