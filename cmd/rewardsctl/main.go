// Command rewardsctl is the operator CLI: schema migrations, EventSub
// bookkeeping and Redis maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ericadamski/stream-rewards/internal/adapter/postgres"
	"github.com/ericadamski/stream-rewards/internal/adapter/redis"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const commandTimeout = 2 * time.Minute

type options struct {
	databaseURL string
	redisURL    string
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load()
	opts := &options{}

	root := &cobra.Command{
		Use:          "rewardsctl",
		Short:        "Operate a stream-rewards deployment",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := "info"
			if opts.verbose {
				level = "debug"
			}
			logging.InitLogger(level, "text")
		},
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newMigrateCmd(opts),
		newSubscriptionsCmd(opts),
		newRewardsCmd(opts),
		newTalliesCmd(opts),
	)
	return root
}

func newMigrateCmd(opts *options) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connectDB(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !statusOnly {
				if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}
			current, latest, err := postgres.MigrationStatus(ctx, pool)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d\n", current, latest)
			return err
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only report the schema version")
	return cmd
}

func newSubscriptionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect stored EventSub subscriptions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored EventSub subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connectDB(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			subs, err := postgres.NewEventSubRepo(pool).List(ctx)
			if err != nil {
				return err
			}
			return printSubscriptions(cmd.OutOrStdout(), subs)
		},
	})
	return cmd
}

func newRewardsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Inspect reward ladders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <twitch-login>",
		Short: "List a streamer's rewards in ladder order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connectDB(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			rewards, err := postgres.NewRewardRepo(pool).ListByTwitchLogin(ctx, args[0])
			if err != nil {
				return err
			}
			return printRewards(cmd.OutOrStdout(), rewards)
		},
	})
	return cmd
}

func newTalliesCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "tallies",
		Short: "Maintain per-stream metric tallies in Redis",
	}
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete tallies of streams that are no longer live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.redisURL == "" {
				return errors.New("redis URL required (--redis-url or REDIS_URL)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			client, err := redis.NewClient(ctx, opts.redisURL)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			slog.Info("Connected to Redis", "url", redactURL(opts.redisURL))

			start := time.Now()
			result, err := redis.NewStreamStateStore(client).PruneStaleTallies(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}
			slog.Info("Prune summary",
				"dry_run", dryRun,
				"scanned", result.Scanned,
				"stale", result.Stale,
				"skipped", result.Skipped,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
	}
	prune.Flags().BoolVar(&dryRun, "dry-run", false, "Only report stale tallies")
	cmd.AddCommand(prune)
	return cmd
}

func connectDB(ctx context.Context, opts *options) (*pgxpool.Pool, error) {
	if opts.databaseURL == "" {
		return nil, errors.New("database URL required (--database-url or DATABASE_URL)")
	}
	pool, err := postgres.Connect(ctx, opts.databaseURL, nil)
	if err != nil {
		return nil, err
	}
	slog.Debug("Connected to Postgres", "url", redactURL(opts.databaseURL))
	return pool, nil
}

func printSubscriptions(w io.Writer, subs []domain.EventSubSubscription) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTYPE\tSUBSCRIPTION\tCONDUIT\tCREATED")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.UserID, s.Type, s.SubscriptionID, s.ConduitID, s.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printRewards(w io.Writer, rewards []domain.Reward) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tREWARD\tID")
	for _, r := range rewards {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.SubCount, r.Reward, r.ID)
	}
	return tw.Flush()
}

// redactURL hides the password of a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
