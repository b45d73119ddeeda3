package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/docstore"
	"voxelstream.ai/internal/persistence/levelstore"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/palette"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/level"
	"voxelstream.ai/internal/sim/terrain/gen"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/engine.yaml", "engine config path (empty for defaults)")
		configDir  = flag.String("configs", "./configs", "config directory holding cells.json")
		addr       = flag.String("addr", "", "http listen address (overrides transport.addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides level.data_dir)")
		levelID    = flag.String("level", "", "level id (overrides level.id)")
		restore    = flag.String("restore", "", "snapshot to import into the level store before starting")
		keep       = flag.Int("snapshot_keep", 8, "live snapshots kept before older ones move to archives (0 keeps all)")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "server").Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if s := strings.TrimSpace(*addr); s != "" {
		tune.Transport.Addr = s
	}
	if s := strings.TrimSpace(*dataDir); s != "" {
		tune.Level.DataDir = s
	}
	if s := strings.TrimSpace(*levelID); s != "" {
		tune.Level.ID = s
	}

	table, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("load cell catalog")
	}

	levelDir := filepath.Join(tune.Level.DataDir, "levels", tune.Level.ID)
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create level dir")
	}
	storePath := tune.Storage.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(levelDir, storePath)
	}

	store, err := docstore.Open(tune.Storage.Backend, storePath, docstore.Options{
		Compress: tune.Storage.Compress,
		Log:      logger.With().Str("component", "docstore").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", tune.Storage.Backend).Msg("open store")
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if p := strings.TrimSpace(*restore); p != "" {
		snap, err := snapshot.Read(p)
		if err != nil {
			logger.Fatal().Err(err).Msg("read snapshot")
		}
		if err := snapshot.Import(ctx, store, snap); err != nil {
			logger.Fatal().Err(err).Msg("import snapshot")
		}
		logger.Info().Str("snapshot", filepath.Base(p)).Uint64("tick", snap.Header.Tick).Int("docs", snap.Docs()).Msg("restored")
	}

	palettes := palette.NewManager(store, logger.With().Str("component", "palette").Logger())
	storage, err := levelstore.Open(ctx, levelstore.Options{
		Store:    store,
		Palettes: palettes,
		Table:    table,
		Name:     tune.Level.ID,
		Log:      logger.With().Str("component", "levelstore").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open level storage")
	}
	defer storage.Close()

	generator := gen.New(gen.Config{
		Seed:      tune.Generator.Seed,
		SeaLevel:  tune.Generator.SeaLevel,
		Amplitude: tune.Generator.Amplitude,
		BedrockY:  tune.Stream.MinChunkY * 16,
	}, gen.PaletteFrom(table), storage.Factory())

	journal := persistlog.NewCorruptionJournal(levelDir)
	defer journal.Close()

	lvl, err := level.New(level.Config{
		ID:              tune.Level.ID,
		TickHz:          tune.Runtime.TickHz,
		SaveEveryTicks:  tune.Runtime.SaveEveryTicks,
		ChunksPerTick:   tune.Runtime.ChunksPerTick,
		ChunksPerSecond: float64(tune.Runtime.ChunksPerSecond),
		ChunkBurst:      tune.Runtime.ChunkBurst,
		MaxRadius:       tune.Stream.MaxRadius,
		MinChunkY:       tune.Stream.MinChunkY,
		MaxChunkY:       tune.Stream.MaxChunkY,
		LowWater:        tune.Stream.LowWater,
		HighWater:       tune.Stream.HighWater,
		Workers:         tune.Stream.Workers,
	}, level.Deps{
		Store:     store,
		Storage:   storage,
		Generator: generator,
		Table:     table,
		Journal:   journal,
		Log:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("level")
	}
	logger.Info().
		Str("level", tune.Level.ID).
		Str("guid", storage.GUID().String()).
		Int32("palette_version", storage.Palette().CurrentVersionID()).
		Msg("level opened")

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := lvl.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("level stopped")
		}
	}()

	mux := http.NewServeMux()
	routes(mux, &admin{
		level:    lvl,
		levelDir: levelDir,
		keep:     *keep,
		enabled:  envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		log:      logger,
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(lvl, logger.With().Str("component", "ws").Logger()).Handler())

	srv := &http.Server{
		Addr:              tune.Transport.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", tune.Transport.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("ListenAndServe")
		cancel()
	}
	// The level flushes dirty chunks on its way out; wait for it before closing storage.
	<-runDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
