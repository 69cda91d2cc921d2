// Command vip executes CHIP-8 programs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/retroenv/retrogolib/app"
	"github.com/retroenv/retrogolib/log"

	"github.com/nf/vip/cosmac"
)

func main() {
	def := cosmac.DefaultConfig()
	var (
		cliFlag   = flag.Bool("cli", false, "run in the terminal instead of a window")
		devFlag   = flag.Bool("dev", false, "enable developer mode (live re-build and run a program)")
		debugFlag = flag.Bool("debug", false, "enable debugger (implies -dev)")

		hzFlag    = flag.Int("hz", def.ClockHz, "instructions executed per `second`")
		scaleFlag = flag.Int("scale", def.Scale, "window pixels per display pixel")
		seedFlag  = flag.Uint64("seed", 0, "random seed for RND (0 picks one)")
		fgFlag    = flag.String("fg", "ffffff", "foreground `color` as hex RGB")
		bgFlag    = flag.String("bg", "000000", "background `color` as hex RGB")

		verboseFlag = flag.Bool("v", false, "verbose output")
		quietFlag   = flag.Bool("q", false, "only output errors")

		cpuProfileFlag = flag.String("cpu_profile", "", "write CPU profile to `file`")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <program.ch8 | program.8o>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s [flags] <-dev | -debug> <program.ch8 | program.8o>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}

	logger := newLogger(*verboseFlag, *quietFlag, nil)

	cfg := def
	cfg.GUI = !*cliFlag
	cfg.ClockHz = *hzFlag
	cfg.Scale = *scaleFlag
	cfg.Seed = *seedFlag
	var err error
	if cfg.Foreground, err = parseColor(*fgFlag); err != nil {
		logger.Fatal("Invalid -fg", log.Err(err))
	}
	if cfg.Background, err = parseColor(*bgFlag); err != nil {
		logger.Fatal("Invalid -bg", log.Err(err))
	}

	ctx := app.Context()

	if *devFlag || *debugFlag {
		if *debugFlag && *cliFlag {
			logger.Fatal("The debugger cannot share the terminal with -cli")
		}
		cfg.Dev = true
		opts := devOptions{
			debug:   *debugFlag,
			verbose: *verboseFlag,
			quiet:   *quietFlag,
		}
		if err := devMode(ctx, cfg, opts, flag.Arg(0)); err != nil {
			logger.Fatal("Dev mode failed", log.Err(err))
		}
		return
	}

	var cpuProfile io.Closer
	if prof := *cpuProfileFlag; prof != "" {
		f, err := os.Create(prof)
		if err != nil {
			logger.Fatal("Creating CPU profile file failed", log.Err(err))
		}
		pprof.StartCPUProfile(f)
		cpuProfile = f
	}

	code, err := run(ctx, logger, cfg, flag.Arg(0))

	if f := cpuProfile; f != nil {
		pprof.StopCPUProfile()
		f.Close()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err.Error())
	}
	os.Exit(code)
}

// newLogger returns a logger at the level selected by the -v and -q flags.
// A nil out keeps the default output.
func newLogger(verbose, quiet bool, out io.Writer) *log.Logger {
	cfg := log.DefaultConfig()
	if verbose {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	if out != nil {
		cfg.Output = out
	}
	return log.NewWithConfig(cfg)
}

func run(ctx context.Context, logger *log.Logger, cfg cosmac.Config, romFile string) (int, error) {
	rom, err := loadROM(romFile)
	if err != nil {
		return 0, err
	}

	r := cosmac.NewRunner(cfg, logger, nil)
	return r.Run(ctx, rom)
}

// loadROM reads a ROM file, assembling it first if it is Octo source.
func loadROM(file string) ([]byte, error) {
	if !isOcto(file) {
		return os.ReadFile(file)
	}
	tmp, err := os.MkdirTemp("", "vip-build-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	romFile := filepath.Join(tmp, filepath.Base(file)+".ch8")
	return buildOcto(os.Stderr, file, romFile)
}

// parseColor parses a hex RGB color such as "ff8800" or "#ff8800".
func parseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}
