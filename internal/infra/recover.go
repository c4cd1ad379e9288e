// Package infra carries process-level plumbing: panic-recovering job
// runners, the work directory and the executable watchdog.
package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it after a panic. maxPanics bounds the
// restarts; a negative value restarts forever. When the budget runs out the
// process exits: a job that cannot hold itself up must not limp on silently.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		entry := log.WithField("job", id)
		entry.Errorf("recovered panic: %v at %s", r, identifyPanic())
		if maxPanics == 0 {
			entry.Fatal("panic limit exceeded, exiting")
		}
		if maxPanics > 0 {
			maxPanics--
			entry.Debugf("restarting, %d recoveries left", maxPanics)
		}
		go GoRecoverable(maxPanics, id, f)
	}()
	f()
}

// identifyPanic walks the stack past the runtime frames to the frame that
// actually panicked.
func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return fmt.Sprintf("pc:%x", pc)
}
