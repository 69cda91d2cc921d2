package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/howeyc/fsnotify"
	"github.com/retroenv/retrogolib/log"

	"github.com/nf/vip/cosmac"
)

type devOptions struct {
	debug          bool // run the debugger TUI
	verbose, quiet bool
}

func devMode(ctx context.Context, cfg cosmac.Config, opts devOptions, file string) error {
	file = filepath.Clean(file)
	symFile := symbolFile(file)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Watch(filepath.Dir(file)); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp("", "vip-dev-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	romFile := filepath.Join(tmp, filepath.Base(file)+".ch8")

	var (
		debug    *debugger
		logger   *log.Logger
		state    cosmac.StateFunc
		buildOut io.Writer = os.Stderr
	)
	if opts.debug {
		debug = newDebugger()
		logger = newLogger(opts.verbose, opts.quiet, debug.logView)
		debug.log = logger
		state = debug.StateFunc
		buildOut = debug.logView
	} else {
		logger = newLogger(opts.verbose, opts.quiet, nil)
	}
	runner := cosmac.NewRunner(cfg, logger, state)
	if debug != nil {
		debug.run = runner
		go func() {
			if err := debug.Run(); err != nil {
				logger.Error("Debugger failed", log.Err(err))
			}
			runner.Debug("exit", 0)
		}()
	}

	load := func() ([]byte, error) {
		if isOcto(file) {
			return buildOcto(buildOut, file, romFile)
		}
		return os.ReadFile(file)
	}

	romCh := make(chan []byte)
	go func() {
		started := false
		run := time.After(1 * time.Millisecond)
		for {
			select {
			case <-ctx.Done():
				return
			case <-run:
				logger.Info("Building", log.String("file", filepath.Base(file)))
				rom, err := load()
				if err != nil {
					logger.Error("Build failed", log.Err(err))
					break
				}
				syms, err := readSymbols(symFile)
				if err != nil {
					logger.Error("Reading symbols failed", log.Err(err))
					break
				}
				if debug != nil {
					debug.setSymbols(syms)
				}
				if !started {
					logger.Info("Starting")
					select {
					case romCh <- rom:
					case <-ctx.Done():
						return
					}
					started = true
				} else {
					logger.Info("Resetting")
					if err := runner.Swap(rom); err != nil {
						logger.Error("Reset failed", log.Err(err))
					}
				}
			case ev := <-watcher.Event:
				if (ev.Name == file || ev.Name == symFile) && !ev.IsAttrib() {
					run = time.After(100 * time.Millisecond)
				}
			case err := <-watcher.Error:
				logger.Error("Watcher failed", log.Err(err))
			}
		}
	}()

	var rom []byte
	select {
	case rom = <-romCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	code, err := runner.Run(ctx, rom)
	if debug != nil {
		debug.app.Stop()
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("exit code %d", code)
	}
	return nil
}

// isOcto reports whether file is Octo assembly source.
func isOcto(file string) bool { return filepath.Ext(file) == ".8o" }

// symbolFile returns the symbol file for a program, which sits next to it
// with the extension replaced by .sym.
func symbolFile(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file)) + ".sym"
}

// buildOcto assembles src into romFile with the octo command and returns
// the resulting ROM.
func buildOcto(out io.Writer, src, romFile string) ([]byte, error) {
	cmd := exec.Command("octo", src, romFile)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("octo: %w", err)
	}
	return os.ReadFile(romFile)
}
