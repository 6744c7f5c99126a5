// Package heartbeat maintains the liveness marker the external supervisor
// watches. A marker that stops moving means the process hung and must be
// killed.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is how often the marker is touched.
const DefaultInterval = 5 * time.Second

// RestartExitCode is the distinguished status a controlled restart exits
// with. The supervisor maps it to "clear session cache, restart without
// backoff".
const RestartExitCode = 17

// Beacon periodically rewrites the marker file.
type Beacon struct {
	path     string
	interval time.Duration
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBeacon creates a Beacon for path. interval <= 0 selects DefaultInterval.
func NewBeacon(path string, interval time.Duration, log *logrus.Entry) *Beacon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Beacon{
		path:     path,
		interval: interval,
		log:      log.WithField("component", "heartbeat"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start touches the marker immediately and then on every interval.
func (b *Beacon) Start() {
	b.touch()
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				b.touch()
			}
		}
	}()
	b.log.Infof("heartbeat started, marker %s every %s", b.path, b.interval)
}

// Stop halts the beacon. The marker file is left in place.
func (b *Beacon) Stop() {
	b.cancel()
	<-b.done
}

func (b *Beacon) touch() {
	content := fmt.Sprintf("%d\n", time.Now().Unix())
	if err := os.WriteFile(b.path, []byte(content), 0o644); err != nil {
		b.log.Errorf("failed to touch liveness marker: %v", err)
	}
}

// Age returns how long ago the marker at path was last touched.
func Age(path string) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}
