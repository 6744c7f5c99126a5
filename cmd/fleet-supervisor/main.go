package main

import (
	"errors"
	"flag"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/heartbeat"
)

const (
	pollInterval = 100 * time.Millisecond
	maxMarkerAge = 30 * time.Second
	crashBackoff = 2 * time.Second
)

func main() {
	childPath := flag.String("child", "./fleetd", "path to the fleet daemon binary")
	markerPath := flag.String("heartbeat", "/tmp/sessionfleet.heartbeat", "liveness marker file the child touches")
	cacheDir := flag.String("cache-dir", "", "session cache directory cleared on a controlled restart")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logrus.StandardLogger()).WithField("component", "supervisor")

	for {
		code := runChild(*childPath, *markerPath, flag.Args(), maxMarkerAge, pollInterval, log)
		if code == heartbeat.RestartExitCode {
			log.Info("controlled restart, clearing session cache")
			clearCache(*cacheDir, log)
			continue
		}
		log.Warnf("child exited with status %d, restarting in %s", code, crashBackoff)
		time.Sleep(crashBackoff)
	}
}

// runChild spawns the daemon and watches it until exit, killing it when the
// liveness marker goes stale. Returns the child's exit status; a
// heartbeat-triggered kill reports RestartExitCode so the session cache is
// cleared, a wedged cache being a likely cause of the hang.
func runChild(path, marker string, args []string, maxAge, poll time.Duration, log *logrus.Entry) int {
	// A marker left over from the previous run must not count as fresh.
	os.Remove(marker)

	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Errorf("failed to start child: %v", err)
		return -1
	}
	log.Infof("child started, pid %d", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case err := <-done:
			return exitCode(err)
		case <-ticker.C:
			age, err := heartbeat.Age(marker)
			if err != nil {
				// No marker yet; give the child the full window from start.
				age = time.Since(started)
			}
			if age > maxAge {
				log.Errorf("heartbeat stale for %s, killing child", age.Round(time.Second))
				if err := cmd.Process.Kill(); err != nil {
					log.Errorf("kill failed: %v", err)
				}
				<-done
				return heartbeat.RestartExitCode
			}
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func clearCache(dir string, log *logrus.Entry) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("cannot read session cache dir: %v", err)
		return
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			log.Warnf("cache cleanup failed for %s: %v", entry.Name(), err)
		}
	}
}
