package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grove-sync/grove/internal/config"
	"github.com/grove-sync/grove/internal/project"
	"github.com/grove-sync/grove/internal/session"
	"github.com/grove-sync/grove/internal/vfs"
	"github.com/grove-sync/grove/internal/web"
)

var (
	serveAddress string
	servePort    int
	configPath   string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "address to listen on (default 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default 34872)")
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a grove.hcl configuration file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [project]",
	Short: "Serve a project for live syncing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		projectArg := "."
		if len(args) == 1 {
			projectArg = args[0]
		}
		projectPath, err := filepath.Abs(projectArg)
		if err != nil {
			return fmt.Errorf("resolve project path: %w", err)
		}

		// Configuration precedence: flags > grove.hcl > defaults.
		cfgPath := configPath
		if cfgPath == "" {
			dir := projectPath
			if project.IsProjectFile(projectPath) {
				dir = filepath.Dir(projectPath)
			}
			cfgPath = filepath.Join(dir, config.DefaultFileName)
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		serveCfg := cfg.Serve
		if serveCfg == nil {
			serveCfg = &config.Serve{}
		}

		address := serveAddress
		if address == "" {
			address = serveCfg.Address
		}
		if address == "" {
			address = "127.0.0.1"
		}
		port := servePort
		if port == 0 {
			port = serveCfg.Port
		}
		if port == 0 {
			port = 34872
		}

		backend, err := vfs.NewOsBackend(logger)
		if err != nil {
			return err
		}
		v := vfs.New(backend)

		opts := session.Options{
			Debounce:      time.Duration(serveCfg.DebounceMS) * time.Millisecond,
			RetryAttempts: serveCfg.RetryAttempts,
			QueueWindow:   serveCfg.QueueWindow,
			Version:       Version,
			Logger:        logger,
		}
		sess, err := session.New(v, projectPath, opts)
		if err != nil {
			_ = v.Close()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		sess.Start(ctx)
		defer sess.Stop()

		server := &http.Server{
			Addr:    net.JoinHostPort(address, fmt.Sprintf("%d", port)),
			Handler: web.NewServer(sess, logger).Handler(),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		info := sess.Info()
		logger.Info("serving project",
			"project", info.ProjectName,
			"address", server.Addr,
			"session_id", info.SessionID)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
