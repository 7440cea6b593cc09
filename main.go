package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/config"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/util"
)

// Constants for server configuration.
const (
	ServerReadTimeout       = 30 * time.Second
	ServerReadHeaderTimeout = 3 * time.Second
	ServerResponseTimeout   = 30 * time.Second
	ServerShutdownTimeout   = 30 * time.Second
)

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v0.1.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "docbridge",
	Short: "Percona DocBridge: MongoDB dialect gateway for SQL document stores",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		// Check if this is the root command being executed without a subcommand
		if cmd.CalledAs() != "docbridge" || cmd.ArgsLenAtDash() != -1 {
			return nil
		}

		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		log.Ctx(cmd.Context()).Info("Percona DocBridge " + buildVersion())

		return runServer(cmd.Context(), cfg)
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

//nolint:gochecknoglobals
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the status of the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return NewClient(viper.GetInt("port")).Status(cmd.Context())
	},
}

//nolint:gochecknoglobals
var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a filter or pipeline without a running server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		req := translateRequest{}
		req.Collection, _ = cmd.Flags().GetString("collection")
		req.Skip, _ = cmd.Flags().GetInt64("skip")
		req.Limit, _ = cmd.Flags().GetInt64("limit")

		for flag, dst := range map[string]*rawJSON{
			"filter":     &req.Filter,
			"projection": &req.Projection,
			"sort":       &req.Sort,
			"pipeline":   &req.Pipeline,
		} {
			v, _ := cmd.Flags().GetString(flag)
			if v != "" {
				*dst = rawJSON(v)
			}
		}

		d, err := query.DialectByName(cfg.DialectName())
		if err != nil {
			return err //nolint:wrapcheck
		}

		res := translateOffline(d, req)

		return printJSON(cmd.OutOrStdout(), res)
	},
}

//nolint:gochecknoglobals
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control change synchronization of collections",
}

//nolint:gochecknoglobals
var syncStartCmd = &cobra.Command{
	Use:   "start <db.collection>",
	Short: "Start synchronizing a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return NewClient(viper.GetInt("port")).SyncStart(cmd.Context(), syncRequest{Namespace: args[0]})
	},
}

//nolint:gochecknoglobals
var syncStopCmd = &cobra.Command{
	Use:   "stop <db.collection>",
	Short: "Stop synchronizing a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return NewClient(viper.GetInt("port")).SyncStop(cmd.Context(), syncRequest{Namespace: args[0]})
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")

	rootCmd.PersistentFlags().Bool("no-color", false, "")
	rootCmd.PersistentFlags().MarkDeprecated("no-color", "use --log-no-color instead") //nolint:errcheck

	rootCmd.PersistentFlags().Int("port", config.DefaultServerPort, "Port number")
	rootCmd.PersistentFlags().String("dialect", "",
		"SQL dialect of rendered queries: cosmos, sqlite, mysql or postgres (default: from the target driver)")

	rootCmd.Flags().String("source", "", "MongoDB connection string for the source (empty: in-memory)")
	rootCmd.Flags().String("target", "", "Connection string or path of the target store")
	rootCmd.Flags().String("target-driver", config.DefaultTargetDriver,
		"Target driver: sqlite, mysql, postgres or memory")
	rootCmd.Flags().String("target-staging", config.StagingNative,
		"Staging of target writes in transactions: native or emulated")

	rootCmd.Flags().Duration("store-call-timeout", config.DefaultStoreTimeout, "Timeout of a single store call")
	rootCmd.Flags().String("max-request-size", "", "Maximum HTTP request body size (e.g. 4MiB)")

	rootCmd.Flags().Int("sync-batch-size", config.DefaultSyncBatchSize, "Maximum number of events per batch")
	rootCmd.Flags().Duration("sync-max-latency", config.DefaultSyncMaxLatency,
		"Maximum time between the first event of a batch and its replay")
	rootCmd.Flags().Int("sync-max-attempts", config.DefaultSyncMaxAttempts,
		"Replay attempts of a batch before it is dead-lettered")
	rootCmd.Flags().Duration("sync-initial-backoff", config.DefaultSyncInitialBackoff, "")
	rootCmd.Flags().MarkHidden("sync-initial-backoff") //nolint:errcheck
	rootCmd.Flags().Duration("sync-max-backoff", config.DefaultSyncMaxBackoff, "")
	rootCmd.Flags().MarkHidden("sync-max-backoff") //nolint:errcheck
	rootCmd.Flags().StringSlice("sync-collections", nil,
		"Collections synchronized from startup (e.g. shop.orders,shop.items)")
	rootCmd.Flags().StringSlice("sync-include", nil,
		"Namespaces that may be synchronized (e.g. shop.*)")
	rootCmd.Flags().StringSlice("sync-exclude", nil,
		"Namespaces that must not be synchronized (e.g. shop.secret)")

	rootCmd.Flags().Duration("txn-abandon-after", config.DefaultTxnAbandonAfter,
		"Age after which unresolved transactions are rolled back")
	rootCmd.Flags().String("txn-sweep-schedule", config.DefaultTxnSweepSchedule,
		"Cron schedule of the transaction sweeper")
	rootCmd.Flags().Int("txn-archive-size", config.DefaultTxnArchiveSize, "")
	rootCmd.Flags().MarkHidden("txn-archive-size") //nolint:errcheck

	translateCmd.Flags().String("collection", "c", "Collection (container) name")
	translateCmd.Flags().String("filter", "", "Filter document (Extended JSON)")
	translateCmd.Flags().String("projection", "", "Projection document (Extended JSON)")
	translateCmd.Flags().String("sort", "", "Sort document (Extended JSON)")
	translateCmd.Flags().String("pipeline", "", "Aggregation pipeline (Extended JSON array)")
	translateCmd.Flags().Int64("skip", 0, "Number of documents to skip")
	translateCmd.Flags().Int64("limit", 0, "Maximum number of documents")

	syncCmd.AddCommand(syncStartCmd, syncStopCmd)
	rootCmd.AddCommand(
		versionCmd,
		statusCmd,
		translateCmd,
		syncCmd,
	)

	err := rootCmd.Execute()
	if err != nil {
		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}

// runServer starts the HTTP server with the provided configuration.
func runServer(ctx context.Context, cfg *config.Config) error {
	err := config.Validate(cfg)
	if err != nil {
		return errors.Wrap(err, "validate options")
	}

	config.WarnInsecureSettings(ctx, cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	srv, err := createServer(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "new server")
	}

	addr := fmt.Sprintf("localhost:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),

		ReadTimeout:       ServerReadTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
	}

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Ctx(ctx).Info("Starting HTTP server at http://" + addr)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err //nolint:wrapcheck
	})

	grp.Go(func() error {
		<-grpCtx.Done()

		shutdownCtx := context.WithoutCancel(ctx)

		return util.WithTimeout(shutdownCtx, ServerShutdownTimeout, func(ctx context.Context) error {
			return errors.Join(httpServer.Shutdown(ctx), srv.Close(ctx))
		})
	})

	return grp.Wait() //nolint:wrapcheck
}
