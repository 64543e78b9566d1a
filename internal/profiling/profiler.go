// Package profiling writes pprof CPU and heap profiles and execution traces
// for CLI runs, e.g. to profile an index build or a burst of searches.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Session holds the profiles requested for one command run.
type Session struct {
	cpuFile   *os.File
	traceFile *os.File
	heapPath  string
}

// Paths selects the profiles to write. Empty paths are skipped.
type Paths struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile is requested.
func (p Paths) Enabled() bool {
	return p.CPU != "" || p.Heap != "" || p.Trace != ""
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop, after the command has run.
func Start(paths Paths) (*Session, error) {
	s := &Session{heapPath: paths.Heap}

	if paths.CPU != "" {
		f, err := os.Create(paths.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if paths.Trace != "" {
		f, err := os.Create(paths.Trace)
		if err != nil {
			_ = s.Stop()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			_ = s.Stop()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}
	return s, nil
}

// Stop ends profiling and writes the heap profile. It is safe to call twice.
func (s *Session) Stop() error {
	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpuFile.Close())
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	if s.heapPath != "" {
		errs = append(errs, WriteHeap(s.heapPath))
		s.heapPath = ""
	}
	return errors.Join(errs...)
}

// WriteHeap writes a heap profile to path after a GC.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
