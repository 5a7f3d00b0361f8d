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

	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/node"
	"github.com/vantage6/vantage6-sub004/pkg/runtime"
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
	Use: "vantage6-node",
	Short: "vantage6 node agent",
	Long: "The vantage6 node agent authenticates to a coordinator, executes the runs assigned to it, and brokers its algorithm containers' child-task traffic through a local proxy.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vantage6-node version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use: "start",
	Short: "Start the node agent",
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringP("config", "c", "node.yaml", "Path to the node configuration file")
	startCmd.Flags().String("docker-socket", "", "containerd socket path (empty uses the containerd default)")
}

// fileConfig is node.yaml's on-disk shape; it is translated into
// node.Config once the docker socket and CLI overrides are known.
type fileConfig struct {
	CoordinatorURL string `yaml:"coordinator_url"`
	CoordinatorWSURL string `yaml:"coordinator_ws_url"`
	APIKey string `yaml:"api_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	SessionDataRoot string `yaml:"session_data_root"`
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	ProxyListenAddr string `yaml:"proxy_listen_port"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
	AllowedAlgorithms []string `yaml:"allowed_algorithms"`
	AllowedStores []string `yaml:"allowed_algorithm_stores"`
	DatabaseLabels map[string]string `yaml:"databases"`
	DatabaseSensitivity map[string]bool `yaml:"database_sensitivity"`
}

func runStart(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	dockerSocket, _ := cmd.Flags().GetString("docker-socket")

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", configPath, err)
	}

	cfg := node.Config{
		CoordinatorURL: fc.CoordinatorURL,
		CoordinatorWSURL: fc.CoordinatorWSURL,
		APIKey: fc.APIKey,
		PrivateKeyPath: fc.PrivateKeyPath,
		SessionDataRoot: fc.SessionDataRoot,
		MaxConcurrentTasks: fc.MaxConcurrentTasks,
		ProxyListenAddr: fc.ProxyListenAddr,
		JWTSigningKey: []byte(fc.JWTSigningKey),
		AllowedAlgorithms: fc.AllowedAlgorithms,
		AllowedStores: fc.AllowedStores,
		DatabaseLabels: fc.DatabaseLabels,
		DatabaseSensitivity: fc.DatabaseSensitivity,
	}

	rt, err := runtime.NewDockerRuntime(dockerSocket)
	if err != nil {
		return fmt.Errorf("connect to docker at %s: %w", dockerSocket, err)
	}

	agent, err := node.NewAgent(cfg, rt)
	if err != nil {
		return fmt.Errorf("construct node agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	defer bootCancel()
	if err := agent.Boot(bootCtx); err != nil {
		return fmt.Errorf("node boot sequence: %w", err)
	}

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start node agent: %w", err)
	}

	log.WithComponent("node").Info().Msg("node agent running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.WithComponent("node").Info().Msg("shutting down")
	cancel()
	if err := agent.Stop(); err != nil {
		return fmt.Errorf("stop node agent: %w", err)
	}
	return nil
}
