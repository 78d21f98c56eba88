package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silencecat2007/pokepark-kanto/internal/config"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/logger"
	"github.com/silencecat2007/pokepark-kanto/internal/scraper"
)

var (
	cfgFile string
	debug   bool
)

// main 是抓取程序的入口。
//
//	scraper run              运行一次（或按 app.schedule 定时运行）
//	scraper catalog check    校验图鉴
//	scraper catalog refresh  跳过缓存重新拉取图鉴
func main() {
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Kanto pin sold-price scraper",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(runCommand(), catalogCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup 加载配置、创建日志与服务。
func setup(ctx context.Context) (*config.Config, *slog.Logger, *scraper.Service, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.App.LogLevel
	if debug {
		level = "debug"
	}
	appLogger := logger.ForEnv(cfg.App.Env, level)
	slog.SetDefault(appLogger)

	svc, err := scraper.NewService(ctx, cfg, appLogger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init scraper: %w", err)
	}
	return cfg, appLogger, svc, nil
}

func runCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape all keyword/status combinations and write the snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, appLogger, svc, err := setup(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if cfg.App.Schedule != "" && !once {
				return svc.Schedule(ctx, cfg.App.Schedule)
			}
			snap, err := svc.RunOnce(ctx)
			if err != nil {
				return err
			}
			appLogger.Info("done",
				slog.Int("count", snap.TotalCount),
				slog.Int("confirmed_sold", len(snap.ConfirmedSold())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run once even when app.schedule is set")
	return cmd
}

func catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the catalog registry",
	}
	cmd.AddCommand(
		catalogSubcommand("check", "Load the catalog (cache first) and verify its integrity", false),
		catalogSubcommand("refresh", "Fetch the catalog from its source, bypassing and rewriting the cache", true),
	)
	return cmd
}

func catalogSubcommand(use, short string, refresh bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, appLogger, svc, err := setup(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			reg, err := svc.LoadRegistry(ctx, refresh)
			if err != nil {
				return err
			}
			appLogger.Info("catalog ok", slog.Int("entries", reg.Len()))
			return nil
		},
	}
}
