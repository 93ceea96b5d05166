// Command dlexd is the storage engine's process entry point: it loads a
// YAML configuration, opens one data file per configured table, and wires
// the transaction registry, session dispatcher, and HTTP acceptor together,
// the same assembly nornicdb/cmd/nornicdb's runServe performs for its own
// storage engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papiermache/dlex/pkg/config"
	"github.com/papiermache/dlex/pkg/datafile"
	"github.com/papiermache/dlex/pkg/httpapi"
	"github.com/papiermache/dlex/pkg/schema"
	"github.com/papiermache/dlex/pkg/session"
	"github.com/papiermache/dlex/pkg/txn"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlexd",
		Short: "dlexd is a file-backed relational storage engine",
		Long: `dlexd serves a fixed set of tables through a please:<verb> query
language, each backed by a fixed-width binary data file with row-level
transactional locking.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dlexd v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "open every configured table and start serving requests",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "dlex.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	tables := map[string]*txn.Table{}
	for name, def := range cfg.Tables {
		tbl, err := schema.ParseDefinition(name, def)
		if err != nil {
			return fmt.Errorf("parsing table %q: %w", name, err)
		}
		path := filepath.Join(cfg.DataDir, tbl.Name+".dat")
		file, err := datafile.Open(path, tbl)
		if err != nil {
			return fmt.Errorf("opening data file for table %q: %w", name, err)
		}
		defer file.Close()
		tables[tbl.Name] = &txn.Table{Def: tbl, File: file}
		log.Info("dlexd: opened table", zap.String("table", tbl.Name), zap.String("path", path))
	}

	registry := txn.NewRegistry(tables)
	dispatcher := session.New(registry.Dispatch, log)
	dispatcher.Start()
	defer dispatcher.Stop()

	srv := httpapi.New(dispatcher, cfg.ListenAddress, log)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	log.Info("dlexd: ready", zap.String("listen_address", cfg.ListenAddress), zap.Int("tables", len(tables)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("dlexd: received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("dlexd: http server failed", zap.Error(err))
	}

	_, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Close(); err != nil {
		log.Warn("dlexd: error closing http server", zap.Error(err))
	}

	log.Info("dlexd: stopped")
	return nil
}
