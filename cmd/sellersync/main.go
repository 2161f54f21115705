package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sellersync/internal/config"
	"sellersync/internal/domain"
	"sellersync/internal/driver"
	"sellersync/internal/ledger"
	"sellersync/internal/lock"
	"sellersync/internal/runner"
	"sellersync/internal/sink"
	"sellersync/internal/spapi"
)

const reportsAPIVersion = "/reports/2021-06-30"

var rootCmd = &cobra.Command{
	Use:   "sellersync",
	Short: "Seller API report and snapshot ingestion",
	Long: `sellersync pulls reports and entity snapshots from the commerce-platform
seller API and writes them date-partitioned to a local directory or S3.

Runs are idempotent per output key: windows whose output already exists are
skipped, so the tool is safe to re-run on a schedule or after a crash.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(driversCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("SELLERSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("env-file", ".env", "path to a .env file (missing file is ignored)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON instead of tables")
	_ = viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [driver...]",
		Short: "Run ingestion drivers (all when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestion(cmd.Context(), args)
		},
	}
	cmd.Flags().Bool("backfill", false, "walk backwards through history instead of the recent window")
	cmd.Flags().Bool("sequential", false, "run drivers one at a time")
	_ = viper.BindPFlag("backfill", cmd.Flags().Lookup("backfill"))
	_ = viper.BindPFlag("sequential", cmd.Flags().Lookup("sequential"))
	return cmd
}

func driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List registered driver names",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := driver.Names()
			if viper.GetBool("json") {
				return printJSON(names)
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func runIngestion(parent context.Context, names []string) error {
	if err := config.LoadDotEnv(viper.GetString("env-file")); err != nil {
		return err
	}
	cfg := config.Load()
	if viper.GetBool("sequential") {
		cfg.Parallel = false
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auth := spapi.NewAuthenticator(spapi.AuthConfig{
		TokenURL:     cfg.TokenURL,
		APIBaseURL:   cfg.APIBaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	})
	// Credentials are validated up front; a bad refresh token fails the whole
	// run before any driver starts.
	if _, err := auth.BearerToken(ctx); err != nil {
		return err
	}

	out, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		runLock, acquired, err := lock.Acquire(ctx, client, cfg.LockKey, time.Duration(cfg.LockTTLSeconds)*time.Second, logger)
		if err != nil {
			logger.Printf("lock: unavailable, continuing unlocked: %v", err)
		} else if !acquired {
			logger.Printf("lock: another run holds %s, exiting", cfg.LockKey)
			return nil
		} else {
			defer runLock.Release(context.Background())
		}
	}

	var recorder driver.Recorder
	if cfg.DatabaseURL != "" {
		store, err := ledger.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Printf("ledger: unavailable, continuing without: %v", err)
		} else {
			defer store.Close()
			recorder = store
			logger.Printf("ledger: recording run %s", store.RunID())
		}
	}

	client := spapi.NewClient(spapi.ClientConfig{
		Timeout:       time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		Policy:        domain.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, Backoff: cfg.RetryBackoff},
		NetworkPolicy: domain.RetryPolicy{MaxAttempts: cfg.NetworkRetryMaxAttempts, Backoff: cfg.NetworkBackoff},
		RPS:           cfg.RateLimitRPS,
		Burst:         cfg.RateLimitBurst,
		Logger:        logger,
	})

	svc := driver.Services{
		Reports:  spapi.NewReportsService(client, auth, cfg.APIBaseURL+reportsAPIVersion, logger),
		Data:     spapi.NewDataService(client, auth, cfg.APIBaseURL, logger),
		Sink:     out,
		Recorder: recorder,
		Logger:   logger,
	}

	drivers, err := driver.Select(driver.Build(cfg, svc, viper.GetBool("backfill")), names)
	if err != nil {
		return err
	}

	summaries := runner.New(drivers, cfg.Parallel, logger).Run(ctx)
	if err := printSummaries(summaries); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if runner.HardFailure(summaries) {
		return fmt.Errorf("one or more drivers failed")
	}
	return nil
}

func buildSink(ctx context.Context, cfg config.Config) (sink.Sink, error) {
	switch cfg.SinkBackend {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when SINK_BACKEND=s3")
		}
		return sink.NewS3FromEnv(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
	case "local", "":
		return sink.NewLocal(cfg.OutputDir), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.SinkBackend)
	}
}

func printSummaries(summaries []driver.Summary) error {
	type row struct {
		Driver    string `json:"driver"`
		Succeeded int    `json:"succeeded"`
		Skipped   int    `json:"skipped"`
		Failed    int    `json:"failed"`
		Aborted   bool   `json:"aborted"`
		Error     string `json:"error,omitempty"`
	}
	rows := make([]row, 0, len(summaries))
	for _, s := range summaries {
		r := row{Driver: s.Name, Succeeded: s.Succeeded, Skipped: s.Skipped, Failed: s.Failed, Aborted: s.Aborted}
		if s.Err != nil {
			r.Error = s.Err.Error()
		}
		rows = append(rows, r)
	}

	if viper.GetBool("json") {
		return printJSON(rows)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Driver", "Succeeded", "Skipped", "Failed", "Aborted", "Error"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Driver, r.Succeeded, r.Skipped, r.Failed, r.Aborted, r.Error})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
