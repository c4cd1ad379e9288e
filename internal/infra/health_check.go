package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const executableCheckInterval = 5 * time.Second

// MonitorExecutable watches the running binary's mtime and signals once when
// it changes, so a deploy that swaps the file in place triggers a clean
// restart. The channel closes when the watch ends.
func MonitorExecutable(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		entry := log.WithField("object", "MonitorExecutable")

		path, err := os.Executable()
		if err != nil {
			entry.WithError(err).Warn("failed to resolve executable path")
			return
		}
		stat, err := os.Stat(path)
		if err != nil {
			entry.WithError(err).Warn("failed to stat executable")
			return
		}
		startedWith := stat.ModTime()

		ticker := time.NewTicker(executableCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(path)
				if err != nil {
					entry.WithError(err).Warn("failed to stat executable")
					continue
				}
				if !startedWith.Equal(stat.ModTime()) {
					entry.Info("executable changed on disk")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
