package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/agenthub"
	"pkt.systems/agenthub/core"
	"pkt.systems/agenthub/httpapi"
	"pkt.systems/agenthub/internal/appconfig"
	"pkt.systems/agenthub/internal/identity"
	"pkt.systems/agenthub/internal/mcp"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agenthub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Identity.BaseURL) == "" {
				logger.Warn("identity.base_url is empty; every authenticated request will be rejected")
			}

			server, err := agenthub.New(toServerConfig(cfg), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", cfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toServerConfig(cfg appconfig.Config) agenthub.ServerConfig {
	return agenthub.ServerConfig{
		DataDir: cfg.DataDir,
		HTTP: httpapi.Config{
			Addr:                cfg.HTTP.Addr,
			AgentEnabled:        cfg.Features.Agent,
			RoomsEnabled:        cfg.Features.Rooms,
			TerminalEnabled:     cfg.Features.Terminal,
			MCPEnabled:          cfg.Features.MCP,
			AgentBinary:         cfg.Agent.Binary,
			AgentArgs:           cfg.Agent.Args,
			AgentEnv:            flattenEnv(cfg.Agent.Env),
			RoomMessageMaxChars: cfg.Rooms.MessageMaxChars,
			RoomHistoryLimit:    cfg.Rooms.HistoryLimit,
			TerminalShell:       cfg.Terminal.Shell,
		},
		Identity: identity.Config{
			BaseURL: cfg.Identity.BaseURL,
			APIKey:  cfg.Identity.APIKey,
		},
		Runs: core.ManagerConfig{
			BufferMaxLines:  cfg.Agent.BufferMaxLines,
			RetainCompleted: time.Duration(cfg.Agent.RetainCompletedMinutes) * time.Minute,
			MaxRunAge:       time.Duration(cfg.Agent.MaxRunAgeMinutes) * time.Minute,
			TermGrace:       time.Duration(cfg.Agent.TermGraceSeconds) * time.Second,
		},
		SweepInterval:   time.Duration(cfg.Agent.SweepIntervalSeconds) * time.Second,
		LoginVerifyHost: cfg.Agent.LoginVerifyHost,
		MCP: mcp.Config{
			Command:     cfg.MCP.Command,
			Env:         flattenEnv(cfg.MCP.Env),
			CallTimeout: time.Duration(cfg.MCP.CallTimeoutSeconds) * time.Second,
		},
	}
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}
