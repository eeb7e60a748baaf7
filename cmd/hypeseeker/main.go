package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"hypeseeker/internal/config"
	"hypeseeker/internal/content"
	"hypeseeker/internal/daemon"
	"hypeseeker/internal/export"
	"hypeseeker/internal/fetch"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
	"hypeseeker/internal/llm"
	"hypeseeker/internal/notify"
	"hypeseeker/internal/pipeline"
	"hypeseeker/internal/version"
)

const defaultConfigPath = "config.yaml"

func stderrLogger() *log.Logger {
	return log.New(os.Stderr, "[hypeseeker] ", log.LstdFlags)
}

func main() {
	var configPath string

	app := &cli.Command{
		Name:    "hypeseeker",
		Usage:   "AI/ML content radar: fetch, rank, and digest what is trending",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to config.yaml",
				Value:       defaultConfigPath,
				Destination: &configPath,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "update",
				Usage: "Fetch all sources, score and enrich new posts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print run summary as JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runUpdate(ctx, configPath, c.Bool("json"), stderrLogger())
				},
			},
			{
				Name:  "digest",
				Usage: "Send unsent top posts to the configured channels",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print per-channel send counts as JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runDigest(ctx, configPath, c.Bool("json"), stderrLogger())
				},
			},
			{
				Name:  "export",
				Usage: "Write the past week's posts to markdown and CSV",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runExport(ctx, configPath, stderrLogger())
				},
			},
			{
				Name:  "daemon",
				Usage: "Run update and digest on the configured daily schedule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "log-file", Usage: "Path to daemon log file"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runDaemon(ctx, configPath, c.String("log-file"))
				},
			},
			{
				Name:  "version",
				Usage: "Print version",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig falls back to defaults when the default config path is absent;
// an explicitly named config file must exist.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openStore(cfg config.Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := hypedb.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := hypedb.InitSchema(db, "telegram", "slack"); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func newLLMClient(cfg config.Config, env config.Env, logger *log.Logger) llm.Client {
	if env.LLMAPIKey == "" {
		return nil
	}
	base, err := llm.NewOpenAIClient(cfg.LLM, env.LLMAPIKey)
	if err != nil {
		logger.Printf("LLM disabled: %v", err)
		return nil
	}
	var failLog *llm.FailureLog
	if cfg.LLM.FailureLog != "" {
		failLog = llm.NewFailureLog(config.ExpandPath(cfg.LLM.FailureLog))
	}
	return llm.WithRetry(base, llm.DefaultRetryPolicy(), failLog, logger)
}

func buildChannels(env config.Env, logger *log.Logger) []notify.Channel {
	var channels []notify.Channel
	if env.TelegramBotToken != "" && env.TelegramChatID != "" {
		tg, err := notify.NewTelegram(env.TelegramBotToken, env.TelegramChatID)
		if err != nil {
			logger.Printf("telegram disabled: %v", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if env.SlackWebhookURL != "" {
		sl, err := notify.NewSlack(env.SlackWebhookURL)
		if err != nil {
			logger.Printf("slack disabled: %v", err)
		} else {
			channels = append(channels, sl)
		}
	}
	return channels
}

func runUpdate(ctx context.Context, configPath string, asJSON bool, logger *log.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	env := config.LoadEnv()
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p := &pipeline.Pipeline{
		DB:       db,
		Config:   cfg,
		Fetchers: fetch.New(cfg, env, logger),
		Client:   newLLMClient(cfg, env, logger),
		Content:  content.NewFetcher(httpclient.New(30*time.Second), env.GitHubToken, logger),
		Logger:   logger,
	}
	stats, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("fetched=%d saved=%d save_errors=%d scored=%d enriched=%d\n",
			stats.Fetched, stats.Saved, stats.SaveErrors, stats.Scored, stats.Enriched)
	}
	return nil
}

func runDigest(ctx context.Context, configPath string, asJSON bool, logger *log.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	env := config.LoadEnv()
	channels := buildChannels(env, logger)
	if len(channels) == 0 {
		return fmt.Errorf("no notification channels configured, set TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID or SLACK_WEBHOOK_URL")
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	d := &notify.Dispatcher{
		DB:         db,
		Ranking:    cfg.Ranking(),
		MinScore:   cfg.DigestThreshold(),
		Window:     24 * time.Hour,
		ChunkDelay: 500 * time.Millisecond,
		Logger:     logger,
	}
	sent := d.Dispatch(ctx, channels)
	if asJSON {
		out, err := json.MarshalIndent(map[string]any{"sent_by_channel": sent}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for name, n := range sent {
			fmt.Printf("%s: %d posts sent\n", name, n)
		}
	}
	return nil
}

func runExport(ctx context.Context, configPath string, logger *log.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	paths, err := export.Run(ctx, db, cfg.Ranking(), cfg.DataDir, logger)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runDaemon(ctx context.Context, configPath, logFile string) error {
	out := os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(config.ExpandPath(logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := log.New(out, "[hypeseeker] ", log.LstdFlags)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	job := func(ctx context.Context) error {
		if err := runUpdate(ctx, configPath, false, logger); err != nil {
			return err
		}
		return runDigest(ctx, configPath, false, logger)
	}
	return daemon.Run(ctx, cfg.Schedule, job, logger)
}
