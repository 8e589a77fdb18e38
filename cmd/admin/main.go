// Command admin is the operator CLI: trigger a reindex, swap the active
// index version, or run a labeled benchmark suite against a tenant.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/spf13/cobra"

	"lattice/internal/bench"
	"lattice/internal/queue"
	"lattice/internal/server"
	"lattice/internal/util"
	"lattice/pkg/leaselock"
	"lattice/pkg/logger"
	"lattice/pkg/logger/console"
	"lattice/pkg/query"
	"lattice/pkg/query/base"
	"lattice/pkg/retrieval"
	pgxstore "lattice/pkg/store/pgx"
)

var tenantID string

func main() {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	root := &cobra.Command{
		Use:   "admin",
		Short: "Operator tooling for the retrieval engine",
	}
	root.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id")

	root.AddCommand(reindexCmd(), swapIndexCmd(), benchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func requireTenant(cmd *cobra.Command, _ []string) error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reindex",
		Short:   "Trigger a graph rebuild for a tenant",
		PreRunE: requireTenant,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := queue.Init()
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("failed to open channel: %w", err)
			}
			if err := queue.SetupQueues(ch); err != nil {
				return err
			}

			corrID := util.NewCorrelationID()
			err = queue.PublishReindex(ch, queue.ReindexRequest{
				TenantID:      tenantID,
				RequestedBy:   "admin-cli",
				CorrelationID: corrID,
			})
			if err != nil {
				return fmt.Errorf("failed to publish reindex trigger: %w", err)
			}

			logger.Info("Reindex triggered", "tenant", tenantID, "correlation_id", corrID)
			return nil
		},
	}
}

func swapIndexCmd() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:     "swap-index",
		Short:   "Atomically repoint a tenant's active index version",
		PreRunE: requireTenant,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" {
				return fmt.Errorf("--version is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := newPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			graphStore := pgxstore.NewGraphDBStorage(pool)
			locks := leaselock.New(pool)

			var fromVersion string
			err = locks.WithLease(ctx, "index-swap:"+tenantID, leaselock.Options{}, func(ctx context.Context) error {
				var err error
				fromVersion, err = graphStore.ActiveIndexVersion(ctx, tenantID)
				if err != nil {
					return err
				}
				return graphStore.SwapActiveIndexVersion(ctx, tenantID, version)
			})
			if err != nil {
				return fmt.Errorf("index swap failed: %w", err)
			}

			logger.Info("Index version swapped",
				"tenant", tenantID, "from", fromVersion, "to", version)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "index version to activate")
	return cmd
}

func benchCmd() *cobra.Command {
	var suitePath string

	cmd := &cobra.Command{
		Use:     "bench",
		Short:   "Run a labeled question suite and report theme coverage",
		PreRunE: requireTenant,
		RunE: func(cmd *cobra.Command, args []string) error {
			if suitePath == "" {
				return fmt.Errorf("--suite is required")
			}

			suite, err := bench.LoadSuite(suitePath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := newPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			graphStore := pgxstore.NewGraphDBStorage(pool)
			aiClient := server.NewAIClient()

			lexical, err := retrieval.NewLexicalProvider(graphStore)
			if err != nil {
				return err
			}
			reranker := retrieval.NewHTTPReranker(
				util.GetEnv("RERANK_URL"),
				util.GetEnvString("RERANK_MODEL", ""),
				util.GetEnvDurationMs("RERANK_TIMEOUT_MS", 10000),
			)
			router, err := query.NewRouter(aiClient, graphStore)
			if err != nil {
				return err
			}

			var client query.GraphQueryClient = base.NewGraphQueryClient(aiClient, graphStore, lexical, reranker, tenantID)

			answer := func(ctx context.Context, q string, forced query.Route) (*query.Answer, error) {
				decision, err := router.Classify(ctx, q, tenantID, forced)
				if err != nil {
					return nil, err
				}
				switch decision.Route {
				case query.RouteLocalSearch:
					return client.QueryLocal(ctx, q)
				case query.RouteGlobalSearch:
					return client.QueryGlobal(ctx, q)
				case query.RouteDriftMultiHop:
					return client.QueryDrift(ctx, q)
				default:
					return nil, fmt.Errorf("unknown route %q", decision.Route)
				}
			}

			report := bench.Run(ctx, suite, answer)
			fmt.Print(report.String())

			if report.Coverage() < 0.9 {
				return fmt.Errorf("coverage %.1f%% below 90%% target", report.Coverage()*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&suitePath, "suite", "", "path to the YAML question suite")
	return cmd
}

func newPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pool.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return pool, nil
}
