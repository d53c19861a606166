// Command fieldctl builds a point field index from a point cloud, reports
// its coverage, optionally persists it, and renders a demo orbit through
// a procedural feature field.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/pointfield/internal/config"
	"github.com/banshee-data/pointfield/internal/field/aggregate"
	"github.com/banshee-data/pointfield/internal/field/alphamask"
	"github.com/banshee-data/pointfield/internal/field/anchors"
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/march"
	"github.com/banshee-data/pointfield/internal/field/monitor"
	"github.com/banshee-data/pointfield/internal/field/query"
	"github.com/banshee-data/pointfield/internal/field/storage/sqlite"
	"github.com/banshee-data/pointfield/internal/monitoring"
	"github.com/banshee-data/pointfield/internal/version"
)

var (
	configPath  = flag.String("config", "", "Engine config (.json, .yaml); defaults to config/engine.defaults.json")
	pointsPath  = flag.String("points", "", "Point cloud (.json or .csv); a synthetic shell is used when empty")
	pad         = flag.Float64("pad", 0.05, "Padding added around the anchor bounds")
	dbPath      = flag.String("db", "", "SQLite snapshot database")
	save        = flag.Bool("save", false, "Save a snapshot of the built field to -db")
	load        = flag.String("load", "", "Snapshot id to restore from -db instead of reading points (\"latest\" for the newest)")
	plotDir     = flag.String("plot-dir", "", "Write coverage slice heat maps to this directory")
	reportPath  = flag.String("report", "", "Write an HTML occupancy report to this file")
	shrink      = flag.Bool("shrink", false, "Rebuild the alpha mask and shrink the box to its occupied region")
	rays        = flag.Int("rays", 64, "Number of demo rays to render (0 disables rendering)")
	workers     = flag.Int("workers", -1, "Worker count override (0 = GOMAXPROCS, -1 = from config)")
	debug       = flag.Bool("debug", false, "Route engine diagnostics to the log")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090) until interrupted")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// densityGain scales the demo field's density into a visible range.
const densityGain = 40

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if (*save || *load != "") && *dbPath == "" {
		log.Fatal("-save and -load require -db")
	}
	if *debug {
		enableDiagnostics()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if *metricsAddr != "" {
		srv = &http.Server{Addr: *metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server failed: %v", err)
			}
		}()
		monitoring.Logf("serving metrics on %s/metrics", *metricsAddr)
	}

	if err := run(ctx); err != nil {
		log.Fatalf("fieldctl: %v", err)
	}

	if srv != nil {
		monitoring.Logf("run complete; metrics stay available until interrupted")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown: %v", err)
		}
	}
}

// metricsMux exposes the default Prometheus registry, which holds the
// engine's stage timings and sample counters.
func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func enableDiagnostics() {
	w := monitoring.Writer()
	coverage.SetLogWriters(w, w, nil)
	query.SetLogWriters(w, w, nil)
	march.SetLogWriters(w, w, nil)
	aggregate.SetLogWriters(w, w, nil)
	alphamask.SetLogWriters(w, w, nil)
	engine.SetLogWriters(w, w, w)
}

func loadEngineConfig() (*config.EngineConfig, error) {
	if *configPath == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadEngineConfig(*configPath)
}

func run(ctx context.Context) error {
	ec, err := loadEngineConfig()
	if err != nil {
		return err
	}

	var store *sqlite.Store
	if *dbPath != "" {
		if store, err = sqlite.Open(*dbPath); err != nil {
			return err
		}
		defer store.Close()
	}

	var f *engine.Field
	if *load != "" {
		f, err = restoreField(ctx, store, ec)
	} else {
		f, err = buildField(ctx, ec)
	}
	if err != nil {
		return err
	}
	cfg := f.Index().Config
	demo := newDemoField(cfg)

	if *shrink {
		_, tight, ok, err := f.RebuildAlphaMask(ctx, demo.density(f.Index(), densityGain))
		if err != nil {
			return err
		}
		if ok {
			box, err := f.Shrink(ctx, tight)
			if err != nil {
				return err
			}
			monitoring.Logf("shrunk box to %s", box)
		} else {
			monitoring.Logf("alpha mask is empty; box kept")
		}
	}

	logStats(f.Stats())

	if *plotDir != "" {
		if err := writePlots(f.Index(), *plotDir); err != nil {
			return err
		}
	}
	if *reportPath != "" {
		if err := writeReport(f.Stats(), *reportPath); err != nil {
			return err
		}
	}
	if *save {
		label := "synthetic"
		if *pointsPath != "" {
			label = filepath.Base(*pointsPath)
		}
		id, err := store.SaveSnapshot(ctx, f.Snapshot(), label)
		if err != nil {
			return err
		}
		monitoring.Logf("saved snapshot %s", id)
	}

	if *rays > 0 {
		box := f.AABB()
		res, err := f.Render(ctx, orbitRays(box, *rays, orbitDistance(cfg, box)), demo, demoDecoder{gain: densityGain})
		if err != nil {
			return err
		}
		var opacity float64
		for _, o := range res.Opacity {
			opacity += o
		}
		monitoring.Logf("rendered %d rays: %d decoded samples, mean opacity %.3f",
			len(res.Opacity), res.Samples, opacity/float64(len(res.Opacity)))
	}
	return nil
}

func buildField(ctx context.Context, ec *config.EngineConfig) (*engine.Field, error) {
	var provider anchors.Provider = anchors.StaticProvider(shellCloud(2048, 1))
	if *pointsPath != "" {
		provider = anchors.FileProvider{Path: *pointsPath}
	}
	positions, err := provider.Positions()
	if err != nil {
		return nil, err
	}

	cfg, err := engineConfig(ec, len(positions))
	if err != nil {
		return nil, err
	}
	levels := make([]anchors.Level, len(positions))
	for l, p := range positions {
		if levels[l], err = anchors.NewLevel(l, p, cfg.LocalRange[l], cfg.LocalDims[l]); err != nil {
			return nil, err
		}
	}
	box, ok := anchors.Bounds(levels, *pad)
	if !ok {
		return nil, fmt.Errorf("%w: point cloud is empty", engine.ErrConfiguration)
	}
	monitoring.Logf("building field: %d levels over %s", len(levels), box)
	return engine.NewField(ctx, positions, box, cfg)
}

func restoreField(ctx context.Context, store *sqlite.Store, ec *config.EngineConfig) (*engine.Field, error) {
	var (
		snap *engine.Snapshot
		id   = *load
		err  error
	)
	if id == "latest" {
		snap, id, err = store.LatestSnapshot(ctx)
	} else {
		snap, err = store.LoadSnapshot(ctx, id)
	}
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("snapshot %q not found in %s", *load, *dbPath)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := engineConfig(ec, len(snap.Levels))
	if err != nil {
		return nil, err
	}
	monitoring.Logf("restoring snapshot %s", id)
	return engine.Restore(ctx, snap, cfg)
}

func engineConfig(ec *config.EngineConfig, levels int) (*engine.Config, error) {
	cfg, err := engine.ConfigFromEngine(ec, levels)
	if err != nil {
		return nil, err
	}
	if *workers >= 0 {
		cfg.WithWorkers(*workers)
	}
	return cfg, cfg.Validate()
}

func logStats(s engine.Stats) {
	monitoring.Logf("grid %v units %.4g,%.4g,%.4g step %.4g: %d/%d voxels covered",
		s.GridSize, s.Units.X, s.Units.Y, s.Units.Z, s.StepSize, s.Covered, s.Voxels)
	for _, l := range s.Levels {
		monitoring.Logf("level %d: %d anchors, %d occupied voxels, mean %.2f candidates, %d saturated, %d dropped",
			l.Level, l.Anchors, l.Occupied, l.MeanCandidates, l.Saturated, l.Dropped)
	}
	if s.HasMask {
		monitoring.Logf("alpha mask occupancy %.1f%%", 100*s.MaskOccupancy)
	}
}

// writePlots writes the middle slice along each axis for every level.
func writePlots(idx *engine.Index, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	names := [3]string{"x", "y", "z"}
	for l := range idx.Grids {
		for axis := 0; axis < 3; axis++ {
			mid := idx.Geometry.GridSize[axis] / 2
			path := filepath.Join(dir, fmt.Sprintf("coverage_l%d_%s.png", l, names[axis]))
			if err := monitor.PlotCoverageSlice(idx, l, axis, mid, path); err != nil {
				return err
			}
		}
	}
	monitoring.Logf("wrote coverage plots to %s", dir)
	return nil
}

func writeReport(s engine.Stats, path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer fh.Close()
	if err := monitor.RenderOccupancyReport(fh, s); err != nil {
		return err
	}
	monitoring.Logf("wrote occupancy report to %s", path)
	return nil
}
