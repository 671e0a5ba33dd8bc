package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jenian/confgrd/internal/output"
	"github.com/jenian/confgrd/internal/watcher"
)

func runWatch(cmd *cobra.Command, args []string) error {
	absPath, err := resolveRoot(args)
	if err != nil {
		return err
	}

	// One pending signal is enough; bursts during a rescan collapse into it
	changes := make(chan struct{}, 1)
	_, logger, sess := setup(absPath, func(event string) {
		if event != watcher.EventConfigFilesChanged {
			return
		}
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer sess.Close()

	if !noHeader && !jsonOutput {
		printHeader()
	}

	render := func() error {
		result, err := scanOnce(cmd.Context(), sess, absPath)
		if err != nil {
			return err
		}
		return output.Format(os.Stdout, result, output.Options{JSON: jsonOutput, ShowEntries: showEntries})
	}

	if err := render(); err != nil {
		return err
	}

	if err := sess.StartWatch(absPath); err != nil {
		return err
	}
	logger.Info("watching for changes", "path", absPath)

	// Closes only if the watch dies on its own; Stop runs after the loop
	done := sess.WatchDone()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped watching", "path", absPath)
			return nil
		case <-done:
			return fmt.Errorf("watch on %s ended unexpectedly", absPath)
		case <-changes:
			if !jsonOutput {
				fmt.Printf("\n--- configuration changed at %s ---\n\n", time.Now().Format(time.TimeOnly))
			}
			if err := render(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("rescan failed", "err", err)
			}
			if active, _ := sess.WatchStatus(); !active {
				return fmt.Errorf("watch on %s ended unexpectedly", absPath)
			}
		}
	}
}
