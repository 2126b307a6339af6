package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/db"
	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/framesource/opencv"
	"github.com/banshee-data/skystack/internal/fsutil"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/pipeline"
	"github.com/banshee-data/skystack/internal/schedule"
	"github.com/banshee-data/skystack/internal/sink"
	"github.com/banshee-data/skystack/internal/timeutil"
	"github.com/banshee-data/skystack/internal/version"
)

type options struct {
	ConfigPath string
	Testing    bool
	Trace      bool
	Live       bool
	Clock      timeutil.Clock
	Stdout     io.Writer
}

// observationDir returns <base>/<YYYYMMDD>_<device>/<HHMMSS> for now in UTC,
// or <base>/acquire_test in test mode.
func observationDir(base string, device int, now time.Time, testing bool) string {
	if testing {
		return filepath.Join(base, "acquire_test")
	}
	now = now.UTC()
	return filepath.Join(base, now.Format("20060102")+"_"+strconv.Itoa(device), now.Format("150405"))
}

// openSource builds the frame source selected by camera_type, wrapped in a
// preview window when live is set.
func openSource(cfg *config.AcquireConfig, clock timeutil.Clock, live bool) (framesource.Source, error) {
	w, h := cfg.GetWidth(), cfg.GetHeight()
	opts := framesource.Options(cfg.CameraOptions)

	var (
		src framesource.Source
		err error
	)
	switch cfg.GetCameraType() {
	case config.CameraSynthetic:
		src, err = framesource.NewSynthetic(framesource.SyntheticConfigFromOptions(w, h, opts, clock))
	case config.CameraReplay:
		src, err = framesource.NewReplay(os.DirFS(cfg.GetReplayDir()), w, h, framesource.WithReplayClock(clock))
	case config.CameraCV2:
		src, err = opencv.Open(cfg.GetDeviceID(), w, h, opts)
	default:
		return nil, fmt.Errorf("camera_type %q is not supported", cfg.GetCameraType())
	}
	if err != nil {
		return nil, err
	}
	if !live {
		return src, nil
	}
	preview, err := opencv.NewPreview(src, w, h, cfg.GetLiveScale())
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("live preview: %w", err)
	}
	return preview, nil
}

// buildSink fans each record out to the FITS writer, the optional quicklook
// and the run index.
func buildSink(cfg *config.AcquireConfig, dir string, store *db.DB, runID string) sink.MultiSink {
	fsys := fsutil.OSFileSystem{}
	sinks := sink.MultiSink{
		sink.NewFITSWriter(fsys, dir, sink.Observer{Name: cfg.GetObserverName(), COSPAR: cfg.GetObserverCOSPAR()}),
	}
	if cfg.GetQuicklook() {
		sinks = append(sinks, sink.NewQuicklook(fsys, dir, cfg.GetQuicklookWidth()))
	}
	return append(sinks, sink.NewIndex(store, runID))
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	now := opts.Clock.Now()
	dir := observationDir(cfg.GetObservationsPath(), cfg.GetDeviceID(), now, opts.Testing)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create observation directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "acquire.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	out := io.MultiWriter(opts.Stdout, logFile)
	logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	monitoring.SetLogger(logger.Printf)
	defer monitoring.SetLogger(log.Printf)
	var trace io.Writer
	if opts.Trace {
		trace = out
	}
	pipeline.SetLogWriters(out, out, trace)
	defer pipeline.SetLogWriters(nil, nil, nil)

	logger.Printf("acquire %s", version.String())
	logger.Printf("Writing to %s", dir)

	loc := schedule.Location{Lat: cfg.GetObserverLat(), Lon: cfg.GetObserverLon(), El: cfg.GetObserverEl()}
	plan, err := schedule.NewPlan(now, loc, schedule.Params{
		AltSunset:    cfg.GetAltSunset(),
		AltSunrise:   cfg.GetAltSunrise(),
		TestDuration: cfg.GetTestDuration(),
	}, opts.Testing)
	if err != nil {
		return err
	}
	if err := plan.Wait(ctx, opts.Clock); err != nil {
		logger.Printf("Interrupted while waiting for sunset.")
		return nil
	}
	logger.Printf("Starting data acquisition.")
	logger.Printf("Acquisition will end at %s", plan.End.UTC().Format(sink.DateObsLayout))

	store, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("open observation index: %w", err)
	}
	defer store.Close()

	src, err := openSource(cfg, opts.Clock, opts.Live || cfg.GetLive())
	if err != nil {
		return fmt.Errorf("open %s source: %w", cfg.GetCameraType(), err)
	}

	rec := &db.Run{
		Device:     strconv.Itoa(cfg.GetDeviceID()),
		CameraType: cfg.GetCameraType(),
		Width:      cfg.GetWidth(),
		Height:     cfg.GetHeight(),
		Depth:      cfg.GetFramesPerStack(),
		Path:       dir,
		TestMode:   opts.Testing,
		StartedAt:  opts.Clock.Now(),
		PlannedEnd: plan.End,
	}
	if err := store.StartRun(ctx, rec); err != nil {
		src.Close()
		return err
	}

	stats, runErr := pipeline.Run(ctx, pipeline.Config{
		Source:              src,
		Sink:                buildSink(cfg, dir, store, rec.RunID),
		Width:               cfg.GetWidth(),
		Height:              cfg.GetHeight(),
		Depth:               cfg.GetFramesPerStack(),
		EndTime:             plan.End,
		MaxConsecutiveDrops: cfg.GetMaxConsecutiveDrops(),
		TimestampMode:       cfg.GetTimestampMode(),
		ReduceWorkers:       cfg.GetReduceWorkers(),
		PollInterval:        cfg.GetPollInterval(),
		Clock:               opts.Clock,
	})

	status := db.RunStatusCompleted
	switch {
	case runErr != nil:
		status = db.RunStatusFailed
	case ctx.Err() != nil:
		status = db.RunStatusInterrupted
	}
	counters := db.RunCounters{
		Stacks:       stats.Stacks,
		Records:      stats.Records,
		SinkFailures: stats.SinkFailures,
		Frames:       stats.Frames,
		Drops:        stats.Drops,
		Overruns:     stats.Overruns,
	}
	// ctx may already be cancelled; the final status must still be written.
	if err := store.FinishRun(context.Background(), rec.RunID, status, opts.Clock.Now(), runErr, counters); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Printf("Run %s %s: %s", rec.RunID, status, stats)
	return runErr
}
