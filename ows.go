package main

/* ows is the geoserve web server. It exposes the catalog configuration
   REST API below /rest and an OGC WPS 1.0.0 endpoint on /ows and /wps.
   Configuration is read from geoserve.json or geoserve.yaml in the
   config directory and reloaded on SIGHUP together with the catalog.
   Processes can optionally be executed on worker nodes running
   grpc-server. */

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/catalog/persist"
	"github.com/nci/geoserve/metrics"
	"github.com/nci/geoserve/rest"
	"github.com/nci/geoserve/utils"
	"github.com/nci/geoserve/worker/wpsservice"
	"github.com/nci/geoserve/wps"
	"github.com/nci/geoserve/wps/process"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var (
	Error *log.Logger
	Info  *log.Logger
)

var catalogKinds = []catalog.Kind{
	catalog.KindWorkspace, catalog.KindNamespace, catalog.KindDataStore,
	catalog.KindCoverageStore, catalog.KindFeatureType, catalog.KindCoverage,
	catalog.KindStyle, catalog.KindLayer, catalog.KindLayerGroup,
}

func init() {
	Error = log.New(os.Stderr, "GEOSERVE: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "GEOSERVE: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	cmd := &cli.Command{
		Name:  "geoserve",
		Usage: "catalog REST API and WPS server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Server listening port.", Sources: cli.EnvVars("GEOSERVE_PORT")},
			&cli.StringFlag{Name: "conf_dir", Value: utils.EtcDir, Usage: "Server config directory.", Sources: cli.EnvVars("GEOSERVE_CONF_DIR")},
			&cli.StringFlag{Name: "data_dir", Usage: "Server data directory, overrides service_config.data_dir.", Sources: cli.EnvVars("GEOSERVE_DATA_DIR")},
			&cli.StringFlag{Name: "log_dir", Usage: "Request log directory, overrides monitor.log_dir."},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Verbose mode for more server outputs."},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the server (default)",
				Action: serve,
			},
			{
				Name:   "check-conf",
				Usage:  "validate the config and the catalog, then exit",
				Action: checkConf,
			},
			{
				Name:   "dump-conf",
				Usage:  "print the resolved config as JSON",
				Action: dumpConf,
			},
			{
				Name:      "hash-password",
				Usage:     "print the bcrypt hash of a password for the users section",
				ArgsUsage: "[password]",
				Action:    hashPassword,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		Error.Fatal(err)
	}
}

// loadConfig reads the config and applies the command line overrides.
func loadConfig(cmd *cli.Command) (*utils.Config, error) {
	config, err := utils.LoadConfig(cmd.String("conf_dir"))
	if err != nil {
		return nil, fmt.Errorf("Error in loading config files: %v", err)
	}
	applyOverrides(cmd, config)
	return config, nil
}

func applyOverrides(cmd *cli.Command, config *utils.Config) {
	if dir := cmd.String("data_dir"); dir != "" {
		config.ServiceConfig.DataDir = dir
	}
	if dir := cmd.String("log_dir"); dir != "" {
		config.Monitor.LogDir = dir
	}
}

// openCatalog loads the catalog from the configured backend and registers
// the backend to persist later changes.
func openCatalog(ctx context.Context, config *utils.Config, verbose bool) (*catalog.Catalog, persist.Store, io.Closer, error) {
	var store persist.Store
	var closer io.Closer
	sc := config.ServiceConfig
	switch sc.CatalogBackend {
	case utils.BackendPostgres:
		pg, err := persist.OpenPostgres(sc.CatalogDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening catalog database: %v", err)
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, nil, nil, fmt.Errorf("initialising catalog database: %v", err)
		}
		store, closer = pg, pg
	default:
		store = persist.NewDataDir(sc.DataDir, verbose)
	}

	cat := catalog.New()
	if err := store.Load(ctx, cat); err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, nil, fmt.Errorf("loading catalog: %v", err)
	}
	cat.AddListener(store)
	if err := rest.InstallDefaultStyles(cat, store); err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, nil, fmt.Errorf("installing default styles: %v", err)
	}
	publishCatalogMetrics(cat)
	return cat, store, closer, nil
}

func reloadCatalog(ctx context.Context, cat *catalog.Catalog, store persist.Store) error {
	err := cat.Reload(func(fresh *catalog.Catalog) error {
		return store.Load(ctx, fresh)
	})
	if err != nil {
		return err
	}
	publishCatalogMetrics(cat)
	return nil
}

func publishCatalogMetrics(cat *catalog.Catalog) {
	for _, k := range catalogKinds {
		metrics.SetCatalogObjects(string(k), cat.Count(k))
	}
}

func openRequestDAO(ctx context.Context, config *utils.Config) (metrics.RequestDAO, io.Closer, error) {
	m := config.Monitor
	if m.Storage == utils.StoragePostgres {
		dao, err := metrics.NewPostgresDAO(ctx, m.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening monitoring database: %v", err)
		}
		return dao, dao, nil
	}
	return metrics.NewMemoryDAO(m.MaxRequests), nil, nil
}

func newRequestLogger(config *utils.Config, verbose bool) metrics.Logger {
	m := config.Monitor
	if m.LogDir == "" {
		return metrics.NewStdoutLogger()
	}
	return metrics.NewFileLoggerFromEnv(m.LogDir, m.MaxLogFileSize, m.MaxLogFiles, verbose)
}

// fileHandler serves the static directory for all paths no other handler
// claims.
func fileHandler(staticDir string, verbose bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upath := r.URL.Path
		if !strings.HasPrefix(upath, "/") {
			upath = "/" + upath
			r.URL.Path = upath
		}
		upath = filepath.Join(staticDir, path.Clean(upath))
		if verbose {
			Info.Printf("%s -> %s\n", r.URL.String(), upath)
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		http.ServeFile(w, r, upath)
	}
}

func staticDir(config *utils.Config) string {
	if dir := config.ServiceConfig.StaticDir; dir != "" {
		return dir
	}
	return filepath.Join(config.ServiceConfig.DataDir, "static")
}

func serve(ctx context.Context, cmd *cli.Command) error {
	verbose := cmd.Bool("verbose")
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, store, storeCloser, err := openCatalog(ctx, config, verbose)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser.Close()
	}
	files := utils.NewRuntimeFileResolver(config.ServiceConfig.DataDir)

	var cache *utils.OWSCache
	var wpsCache wps.Cache
	if addr := config.ServiceConfig.MemcacheAddress; addr != "" {
		cache = utils.NewOWSCache(addr, time.Duration(config.WPS.CacheTTL)*time.Second, verbose)
		wpsCache = cache
	}

	var remote wps.RemoteExecutor
	if nodes := config.ServiceConfig.WorkerNodes; len(nodes) > 0 {
		client, err := wpsservice.NewClient(nodes)
		if err != nil {
			return err
		}
		defer client.Close()
		remote = client
		Info.Printf("Executing processes on %d worker nodes", len(nodes))
	}

	reg := wps.NewRegistry()
	process.RegisterAll(reg, process.Deps{MaxFeatures: config.WPS.MaxFeatures})
	manager := wps.NewExecutionManager(reg, config.WPS, remote, wpsCache)
	manager.Resolver = wps.NewReferenceResolver(cat, files, config.WPS.MaxInputSize, config.WPS.MaxFeatures)
	manager.Verbose = verbose
	defer manager.Close()

	wpsHandler := wps.NewHandler(manager, wps.NewRenderer(config.ServiceConfig.TemplateDir, verbose))
	wpsHandler.BaseURL = config.ServiceConfig.ProxyBaseURL
	wpsHandler.MaxBodySize = config.WPS.MaxInputSize
	wpsHandler.Verbose = verbose

	dao, daoCloser, err := openRequestDAO(ctx, config)
	if err != nil {
		return err
	}
	if daoCloser != nil {
		defer daoCloser.Close()
	}
	requestLogger := newRequestLogger(config, verbose)
	if fl, ok := requestLogger.(*metrics.FileLogger); ok {
		defer fl.Close()
	}
	monitor := &metrics.Monitor{Logger: requestLogger, DAO: dao, MaxBodySize: config.Monitor.MaxBodySize, Verbose: verbose}

	restHandler := rest.NewHandler(config, cat, store, files)
	restHandler.Requests = dao
	restHandler.Cache = cache
	restHandler.Verbose = verbose
	restHandler.Reload = func(ctx context.Context) error {
		return reloadCatalog(ctx, cat, store)
	}

	ows := metrics.Recover(monitor.Wrap(metrics.RateLimit(metrics.NewLimiter(config.WPS.RateLimit, config.WPS.Burst), wpsHandler)))
	mux := http.NewServeMux()
	mux.Handle("/ows", ows)
	mux.Handle("/ows/", ows)
	mux.Handle("/wps", ows)
	mux.Handle("/rest/", metrics.Recover(monitor.Wrap(restHandler)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", fileHandler(staticDir(config), verbose))

	utils.WatchConfig(Info, Error, cmd.String("conf_dir"), func(c *utils.Config) {
		applyOverrides(cmd, c)
		restHandler.SetConfig(c)
		if err := reloadCatalog(context.Background(), cat, store); err != nil {
			Error.Printf("Error in reloading catalog: %v\n", err)
			return
		}
		files.Forget()
		if cache != nil {
			cache.Reset()
		}
		Info.Printf("Reloaded config and catalog, WPS limits apply after a restart")
	})

	ln, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", cmd.Int("port")))
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 30 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		Info.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	Info.Printf("geoserve is ready on %s with %d processes", ln.Addr(), len(reg.List()))
	return g.Wait()
}

func checkConf(ctx context.Context, cmd *cli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, _, closer, err := openCatalog(ctx, config, cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	for _, k := range catalogKinds {
		fmt.Printf("%-14s %d\n", k, cat.Count(k))
	}
	Info.Printf("config and catalog are valid")
	return nil
}

func dumpConf(ctx context.Context, cmd *cli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func hashPassword(ctx context.Context, cmd *cli.Command) error {
	password := cmd.Args().First()
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
