package force_push

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const historySize = 500

var errStreamClosed = errors.New("force stream closed")

// forceSample is one parsed line from a force sensor.
type forceSample struct {
	Force r3.Vector
	Time  time.Time
}

// forceStream reads newline separated "fx,fy[,fz]" samples from a serial
// port in the background and keeps the most recent ones.
type forceStream struct {
	port   io.ReadCloser
	logger logging.Logger

	mu      sync.RWMutex
	history []forceSample
	next    int
	count   int64
	bad     int64
	readErr error
	updated chan struct{}
	closed  bool
	workers sync.WaitGroup
}

func newForceStream(port io.ReadCloser, logger logging.Logger) *forceStream {
	fs := &forceStream{
		port:    port,
		logger:  logger,
		history: make([]forceSample, 0, historySize),
		updated: make(chan struct{}),
	}
	fs.workers.Add(1)
	utils.ManagedGo(fs.readLoop, fs.workers.Done)
	return fs
}

func (fs *forceStream) readLoop() {
	scanner := bufio.NewScanner(fs.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f, err := parseForceLine(line)
		if err != nil {
			fs.mu.Lock()
			fs.bad++
			fs.mu.Unlock()
			if fs.logger != nil {
				fs.logger.Debugf("skipping force line %q: %v", line, err)
			}
			continue
		}
		fs.push(forceSample{Force: f, Time: time.Now()})
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := scanner.Err(); err != nil && !fs.closed {
		fs.readErr = err
	} else if !fs.closed {
		fs.readErr = io.EOF
	}
}

func (fs *forceStream) push(s forceSample) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return
	}
	if len(fs.history) < historySize {
		fs.history = append(fs.history, s)
	} else {
		fs.history[fs.next] = s
	}
	fs.next = (fs.next + 1) % historySize
	fs.count++
	close(fs.updated)
	fs.updated = make(chan struct{})
}

// Latest returns the newest sample.
func (fs *forceStream) Latest() (forceSample, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.count == 0 {
		if fs.readErr != nil {
			return forceSample{}, fmt.Errorf("force stream stopped: %w", fs.readErr)
		}
		return forceSample{}, fmt.Errorf("no force samples received yet")
	}
	if fs.readErr != nil {
		return forceSample{}, fmt.Errorf("force stream stopped: %w", fs.readErr)
	}
	i := (fs.next - 1 + historySize) % historySize
	if len(fs.history) < historySize {
		i = len(fs.history) - 1
	}
	return fs.history[i], nil
}

// Recent returns up to n of the newest samples, oldest first.
func (fs *forceStream) Recent(n int) []forceSample {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if n > len(fs.history) {
		n = len(fs.history)
	}
	out := make([]forceSample, 0, n)
	start := len(fs.history) - n
	if len(fs.history) == historySize {
		start = fs.next + historySize - n
	}
	for i := 0; i < n; i++ {
		out = append(out, fs.history[(start+i)%len(fs.history)])
	}
	return out
}

// Err reports why the stream stopped, or nil while it is reading.
func (fs *forceStream) Err() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readErr
}

// Count is the number of samples received so far.
func (fs *forceStream) Count() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.count
}

func (fs *forceStream) BadLines() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.bad
}

// Updated returns a channel that is closed when the next sample arrives or
// the stream is closed.
func (fs *forceStream) Updated() <-chan struct{} {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.updated
}

// Close closes the port and waits for the reader to exit.
func (fs *forceStream) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	if fs.readErr == nil {
		fs.readErr = errStreamClosed
	}
	close(fs.updated)
	fs.mu.Unlock()

	err := fs.port.Close()
	fs.workers.Wait()
	return err
}

// parseForceLine parses "fx,fy" or "fx,fy,fz". Whitespace around values is
// ignored.
func parseForceLine(line string) (r3.Vector, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return r3.Vector{}, fmt.Errorf("expected 2 or 3 values, got %d", len(fields))
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return r3.Vector{}, fmt.Errorf("value %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return r3.Vector{}, fmt.Errorf("value %d is not finite", i)
		}
		vals[i] = v
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
