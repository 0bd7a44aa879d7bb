package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"iptoasn/internal/app/server"
	"iptoasn/internal/app/version"
	"iptoasn/internal/config"
	"iptoasn/internal/database"
	"iptoasn/internal/distribution"
	"iptoasn/internal/dnsserver"
	"iptoasn/internal/jobs/runtime"
	"iptoasn/internal/loader"
	"iptoasn/internal/snapshot"
	"iptoasn/internal/support"
)

type flags struct {
	listen    string
	dbURL     string
	cacheFile string
	refresh   uint32
}

// Run parses the command line and serves until SIGINT or SIGTERM.
func Run() error {
	return NewCommand().Execute()
}

func NewCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "iptoasn-webservice",
		Short:         "Serve IP to ASN lookups over HTTP and DNS",
		Version:       version.BuildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, f)
		},
	}
	cmd.SetContext(context.Background())

	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "listen address (default from settings, 127.0.0.1:53661)")
	cmd.Flags().StringVarP(&f.dbURL, "dburl", "u", "", "dataset URL: http(s):// or file://")
	cmd.Flags().StringVarP(&f.cacheFile, "cache-file", "c", "", "where downloaded datasets are cached")
	cmd.Flags().Uint32VarP(&f.refresh, "refresh", "r", 0, "minutes between dataset refreshes, 0 disables")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, f flags) error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	logCloser := support.ConfigureLogging()
	defer logCloser.Close()

	config.ReadSettings()
	applyFlags(cmd, f)

	cfg := config.GetConfig()
	source, err := loader.New(loader.Options{
		URL:       cfg.Dataset.URL,
		CacheFile: cfg.Dataset.CacheFile,
		Proxy:     cfg.Dataset.Proxy,
		Timeout:   time.Duration(cfg.Dataset.DownloadTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	controller := snapshot.NewController(source)

	routerOpts := server.Options{
		Snapshots:   controller,
		AdminSecret: support.GetEnv("IPTOASN_ADMIN_SECRET", ""),
	}

	if database.Enabled() {
		if _, err := database.SetupDB(); err != nil {
			log.Error("Load history disabled, database setup failed", "error", err)
		} else {
			defer database.Close()
			controller.Subscribe(database.HistoryRecorder(cfg.History.Keep))
			routerOpts.History = database.ListRecentDatasetLoads
		}
	}

	var (
		redisClient *redis.Client
		distributor *distribution.Distributor
	)
	if support.RedisConfigured() {
		redisClient, err = support.GetRedisClient()
		if err != nil {
			return fmt.Errorf("failed to get redis client: %w", err)
		}
		defer support.CloseRedisClient()

		config.EnableRedisSynchronization(ctx, redisClient)
		defer config.DisableRedisSynchronization()

		distributor = distribution.New(redisClient, controller)
		controller.Subscribe(distributor.Observer())
		routerOpts.Instances = func(ctx context.Context) ([]runtime.InstanceState, error) {
			return runtime.ListInstances(ctx, redisClient)
		}
	}

	if err := bootstrapDataset(ctx, controller, distributor); err != nil {
		log.Error("Application cannot start without initial data")
		return err
	}

	if redisClient != nil {
		heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient, instanceState(controller))
		defer heartbeatCancel()
	}

	// Settings may have been replaced by a peer during startup.
	cfg = config.GetConfig()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.OpenRoutes(gctx, cfg.Server.Listen, server.NewRouter(routerOpts))
	})
	if cfg.DNS.Listen != "" {
		g.Go(func() error {
			handler := dnsserver.NewHandler(controller, cfg.DNS.Zone, cfg.DNS.TTLSeconds)
			return dnsserver.ListenAndServe(gctx, cfg.DNS.Listen, handler)
		})
	}
	g.Go(func() error {
		runtime.StartDatasetRefreshRoutine(gctx, controller, redisClient)
		return nil
	})
	if distributor != nil {
		g.Go(func() error {
			distributor.Start(gctx)
			return nil
		})
	}

	err = g.Wait()
	log.Info("Shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// bootstrapDataset installs the first snapshot. Instances sharing a Redis
// take the dataset a peer already published before downloading it again.
func bootstrapDataset(ctx context.Context, controller *snapshot.Controller, distributor *distribution.Distributor) error {
	if distributor != nil {
		synced, err := distributor.SyncFromRedis(ctx)
		if err != nil {
			log.Warn("Shared dataset unavailable, loading it directly", "error", err)
		}
		if synced {
			return nil
		}
	}

	log.Info("Retrieving ASNs")
	if err := controller.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to load initial database: %w", err)
	}
	return nil
}

func instanceState(controller *snapshot.Controller) func() runtime.InstanceState {
	return func() runtime.InstanceState {
		state := runtime.InstanceState{Instance: runtime.InstanceID()}
		if snap := controller.Current(); snap != nil {
			state.Digest = snap.DigestHex()
			state.Records = snap.Len()
			state.LoadedAt = snap.LoadedAt()
		}
		return state
	}
}

// applyFlags overrides settings with the flags given on the command line and
// a PORT from the environment.
func applyFlags(cmd *cobra.Command, f flags) {
	changed := cmd.Flags().Changed
	config.Override(func(cfg *config.Config) {
		if changed("listen") {
			cfg.Server.Listen = f.listen
		}
		if changed("dburl") {
			cfg.Dataset.URL = f.dbURL
		}
		if changed("cache-file") {
			cfg.Dataset.CacheFile = f.cacheFile
		}
		if changed("refresh") {
			cfg.Dataset.RefreshTimer = config.Timer{Minutes: f.refresh}
		}
		cfg.Server.Listen = resolveListen(cfg.Server.Listen, "PORT")
	})
}

// resolveListen swaps the port of listen for the one in envKey, if any.
func resolveListen(listen, envKey string) string {
	port := readPort(envKey)
	if port == 0 {
		return listen
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		host = listen
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
