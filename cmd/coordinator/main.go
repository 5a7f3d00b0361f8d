package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/blobstore"
	"github.com/vantage6/vantage6-sub004/pkg/coordinator"
	"github.com/vantage6/vantage6-sub004/pkg/dataframe"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/socket"
	"github.com/vantage6/vantage6-sub004/pkg/store"

	"github.com/vantage6/vantage6-sub004/pkg/api"
)

var (
	Version = "dev"
	Commit = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use: "vantage6-coordinator",
	Short: "vantage6 coordinator",
	Long: "The vantage6 coordinator is the task state machine, session/dataframe orchestrator, and REST+WebSocket API that node agents talk to.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vantage6-coordinator version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use: "start",
	Short: "Start the coordinator",
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringP("config", "c", "coordinator.yaml", "Path to the coordinator configuration file")
}

// fileConfig is coordinator.yaml's on-disk shape.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DatabaseDSN string `yaml:"database_dsn"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
	BlobStorePath string `yaml:"blob_store_path"`
	RunsDataCleanupDays int `yaml:"runs_data_cleanup_days"`
	CleanupIntervalMin int `yaml:"cleanup_interval_minutes"`
	CleanupDeleteInput bool `yaml:"cleanup_delete_input"`
	ContainerTokenTTLHr int `yaml:"container_token_ttl_hours"`
}

func runStart(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", configPath, err)
	}

	st, err := store.Open(fc.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var blobs *blobstore.Store
	if fc.BlobStorePath != "" {
		blobs, err = blobstore.Open(fc.BlobStorePath)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
	}

	hub := socket.NewHub()
	minter := auth.NewMinter([]byte(fc.JWTSigningKey))
	dfs := dataframe.New(st)

	cleanupIntervalMin := fc.CleanupIntervalMin
	if cleanupIntervalMin <= 0 {
		cleanupIntervalMin = 60
	}
	containerTokenTTLHr := fc.ContainerTokenTTLHr
	if containerTokenTTLHr <= 0 {
		containerTokenTTLHr = 24
	}

	var blobStoreForCoordinator coordinator.BlobStore
	if blobs != nil {
		blobStoreForCoordinator = blobs
	}

	coord := coordinator.New(st, hub, minter, dfs, nil, blobStoreForCoordinator, coordinator.Config{
		RunsDataCleanupDays: fc.RunsDataCleanupDays,
		CleanupInterval: time.Duration(cleanupIntervalMin) * time.Minute,
		CleanupDeleteInput: fc.CleanupDeleteInput,
		ContainerTokenTTL: time.Duration(containerTokenTTLHr) * time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.Start(ctx)

	srv := api.NewServer(fc.ListenAddr, api.Deps{
		Store: st,
		Coord: coord,
		Dataframes: dfs,
		Hub: hub,
		Minter: minter,
		Blobs: blobs,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.WithComponent("coordinator").Info().Str("addr", fc.ListenAddr).Msg("coordinator running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithComponent("coordinator").Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithComponent("coordinator").Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	cancel()
	coord.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithComponent("coordinator").Error().Err(err).Msg("graceful shutdown failed")
	}

	if blobs != nil {
		if err := blobs.Close(); err != nil {
			log.WithComponent("coordinator").Error().Err(err).Msg("failed to close blob store")
		}
	}
	return st.Close()
}
