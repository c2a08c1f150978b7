package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/ledgertap/pkg/api"
	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/client"
	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/decoder"
	"github.com/cuemby/ledgertap/pkg/feed"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/supervisor"
	"github.com/cuemby/ledgertap/pkg/types"
	"github.com/cuemby/ledgertap/pkg/writer"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgertap",
	Short: "Ledgertap - chain-feed telemetry ingestion pipeline",
	Long: `Ledgertap subscribes to a chain feed, materializes the account and
transaction events matching operator-declared interests, and fans them
out to a durable stream-store and a live broadcast tap.

Interests are mutable at runtime through the control-plane API without
restarting ingestion.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ledgertap version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interestCmd)
	rootCmd.AddCommand(tailCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// Run command

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion pipeline",
	Long: `Start the full pipeline: subscription workers for every persisted
interest, the batching writer, the live bus and the control-plane API.

The process exits 0 on a clean interrupt-driven shutdown and non-zero on
fatal initialization or stream-store errors.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().String("config", "", "Path to YAML config file")
	runCmd.Flags().String("api-key", "", "Chain feed API key (overrides config)")
	runCmd.Flags().String("feed-endpoint", "", "Chain feed gRPC endpoint (overrides config)")
	runCmd.Flags().String("log-store", "", "Stream-store URL (overrides config)")
	runCmd.Flags().String("control-addr", "", "Control plane listen address (overrides config)")
	runCmd.Flags().String("data-dir", "", "Interest database directory (overrides config)")
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	// Flags win over the file.
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v, _ := cmd.Flags().GetString("feed-endpoint"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v, _ := cmd.Flags().GetString("log-store"); v != "" {
		cfg.Store.URL = v
	}
	if v, _ := cmd.Flags().GetString("control-addr"); v != "" {
		cfg.Control.Addr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Control.DataDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("feed", cfg.Feed.Endpoint).
		Str("store", cfg.Store.URL).
		Str("control", cfg.Control.Addr).
		Msg("Starting Ledgertap")

	if err := os.MkdirAll(cfg.Control.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	interestStore, err := interest.NewStore(cfg.Control.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open interest store: %w", err)
	}
	defer interestStore.Close()

	table, err := interest.NewTable(interestStore)
	if err != nil {
		return err
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	streamStore, err := writer.NewRedisStore(bootCtx, cfg.Store.URL, cfg.Store.MaxEntries)
	bootCancel()
	if err != nil {
		return err
	}
	defer streamStore.Close()

	fanin := make(chan *types.Record, cfg.Pipeline.FanInCapacity)
	liveBus := bus.New(cfg.Pipeline.BusCapacity)
	source := feed.NewGRPCSource(cfg.Feed)
	decoders := decoder.NewRegistry()

	sup := supervisor.New(source, table, decoders, liveBus, fanin, cfg.Pipeline.Reconnect)
	w := writer.New(fanin, streamStore, cfg.Store)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	writerErr := make(chan error, 1)
	go func() {
		writerErr <- w.Run(runCtx)
	}()

	sup.Start(runCtx)

	srv := api.NewServer(table, sup, liveBus, cfg.Control)
	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	case err := <-writerErr:
		// The writer only exits on its own for fatal store errors.
		logger.Error().Err(err).Msg("Writer failed")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = sup.Shutdown(shutdownCtx)
		liveBus.Close()
		return fmt.Errorf("stream-store writer failed: %w", err)
	}

	// Hierarchical shutdown: control plane first, then drain workers and
	// close the fan-in channel, then let the writer flush its tail.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Control plane shutdown incomplete")
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Supervisor shutdown incomplete")
	}

	select {
	case err := <-writerErr:
		if err != nil {
			return fmt.Errorf("final flush failed: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Writer did not drain in time")
	}

	liveBus.Close()
	logger.Info().Msg("Shutdown complete")
	return nil
}

// Interest commands (control-plane client)

var interestCmd = &cobra.Command{
	Use:   "interest",
	Short: "Manage pipeline interests",
}

func init() {
	interestCmd.PersistentFlags().String("control-addr", "localhost:8080", "Control plane address")

	interestCmd.AddCommand(interestListCmd)
	interestCmd.AddCommand(interestUpsertCmd)
	interestCmd.AddCommand(interestRemoveCmd)
}

func controlClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("control-addr")
	return client.NewClient(addr)
}

var interestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active interests",
	RunE: func(cmd *cobra.Command, args []string) error {
		interests, err := controlClient(cmd).ListInterests(cmd.Context())
		if err != nil {
			return err
		}
		if len(interests) == 0 {
			fmt.Println("No interests configured")
			return nil
		}
		for id, status := range interests {
			fmt.Printf("%s\t%s\n", id, status)
		}
		return nil
	},
}

var interestUpsertCmd = &cobra.Command{
	Use:   "upsert <interest-id>",
	Short: "Create or update an interest",
	Long: `Create or update an interest. At least one of --accounts, --owners or
--tx-include must be given; --tx-required further narrows transaction
admission to transactions referencing every listed account.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, _ := cmd.Flags().GetStringSlice("accounts")
		owners, _ := cmd.Flags().GetStringSlice("owners")
		txInclude, _ := cmd.Flags().GetStringSlice("tx-include")
		txRequired, _ := cmd.Flags().GetStringSlice("tx-required")
		includeFailed, _ := cmd.Flags().GetBool("include-failed")

		resp, err := controlClient(cmd).UpsertInterest(cmd.Context(), client.UpsertRequest{
			InterestID:    args[0],
			Accounts:      accounts,
			AccountOwners: owners,
			TxInclude:     txInclude,
			TxRequired:    txRequired,
			IncludeFailed: includeFailed,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

func init() {
	interestUpsertCmd.Flags().StringSlice("accounts", nil, "Account pubkeys to match")
	interestUpsertCmd.Flags().StringSlice("owners", nil, "Account owners to match")
	interestUpsertCmd.Flags().StringSlice("tx-include", nil, "Admit transactions referencing any of these accounts")
	interestUpsertCmd.Flags().StringSlice("tx-required", nil, "Admit only transactions referencing all of these accounts")
	interestUpsertCmd.Flags().Bool("include-failed", false, "Also admit failed transactions")
}

var interestRemoveCmd = &cobra.Command{
	Use:   "remove <interest-id>",
	Short: "Remove an interest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := controlClient(cmd).RemoveInterest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

// Tail command (downstream consumer-group debug surface)

var tailCmd = &cobra.Command{
	Use:   "tail <topic>",
	Short: "Follow a stream-store topic through a consumer group",
	Long: `Read a topic from the stream-store the way a downstream consumer
would: through a consumer group with acknowledgement. Useful for
verifying what the pipeline actually persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().String("log-store", "redis://localhost:6379", "Stream-store URL")
	tailCmd.Flags().String("group", "ledgertap-tail", "Consumer group name")
	tailCmd.Flags().Int64("count", 100, "Max entries per read")
}

func runTail(cmd *cobra.Command, args []string) error {
	topic := args[0]
	url, _ := cmd.Flags().GetString("log-store")
	group, _ := cmd.Flags().GetString("group")
	count, _ := cmd.Flags().GetInt64("count")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := writer.NewRedisStore(ctx, url, 0)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureGroup(ctx, topic, group, "$"); err != nil {
		return err
	}

	consumer := "tail-" + uuid.NewString()
	for {
		msgs, err := store.ReadGroup(ctx, topic, group, consumer, count, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			fmt.Printf("%s\tid=%v interest=%v classification=%v ts=%v\n",
				m.ID, m.Values["id"], m.Values["interest_id"],
				m.Values["classification"], m.Values["ts"])
			ids = append(ids, m.ID)
		}
		if err := store.Ack(ctx, topic, group, ids...); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
