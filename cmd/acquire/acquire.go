// Command acquire captures video frames until sunrise (or for a short test
// run) and writes one FITS summary per stack of frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/schedule"
	"github.com/banshee-data/skystack/internal/timeutil"
	"github.com/banshee-data/skystack/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the acquisition config JSON")
	testMode    = flag.Bool("test", false, "Testing mode: start capturing immediately")
	traceFrames = flag.Bool("trace", false, "Log every dropped frame")
	liveView    = flag.Bool("live", false, "Display live image while capturing")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("acquire", version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		ConfigPath: *configPath,
		Testing:    *testMode,
		Trace:      *traceFrames,
		Live:       *liveView,
		Clock:      timeutil.RealClock{},
		Stdout:     os.Stdout,
	})
	if errors.Is(err, schedule.ErrNoNight) {
		log.Printf("The sun never sets. Exiting program.")
		return
	}
	if err != nil {
		log.Fatalf("acquire: %v", err)
	}
}
