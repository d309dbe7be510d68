package force_push

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

// portOpener opens a serial port for reading.
type portOpener func(port string, baudrate int) (io.ReadCloser, error)

func openSerialPort(port string, baudrate int) (io.ReadCloser, error) {
	return serial.Open(port, &serial.Mode{BaudRate: baudrate})
}

type streamEntry struct {
	stream   *forceStream
	baudrate int
	refCount int64
}

// StreamRegistry shares one force stream per serial port. A sensor is
// rebuilt by opening the new instance before the old one is closed, so the
// port has to outlive any single sensor.
type StreamRegistry struct {
	entries map[string]*streamEntry // port path -> entry
	// streams that stopped and were replaced, still held by old sensors
	retired map[*forceStream]*streamEntry
	mu      sync.Mutex
	open    portOpener
}

func NewStreamRegistry(open portOpener) *StreamRegistry {
	return &StreamRegistry{
		entries: make(map[string]*streamEntry),
		retired: make(map[*forceStream]*streamEntry),
		open:    open,
	}
}

var globalStreams = NewStreamRegistry(openSerialPort)

// Acquire returns the stream for port, opening it on first use. A stream
// whose reader has stopped is replaced by a freshly opened one.
func (r *StreamRegistry) Acquire(port string, baudrate int, logger logging.Logger) (*forceStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[port]; exists {
		if err := entry.stream.Err(); err != nil {
			if logger != nil {
				logger.Warnf("reopening %s, previous stream stopped: %v", port, err)
			}
			delete(r.entries, port)
			r.retired[entry.stream] = entry
			if err := entry.stream.Close(); err != nil && logger != nil {
				logger.Debugf("closing stopped stream on %s: %v", port, err)
			}
		} else {
			if entry.baudrate != baudrate {
				return nil, fmt.Errorf("conflict: %s already open at %d baud (refCount: %d)", port, entry.baudrate, entry.refCount)
			}
			entry.refCount++
			return entry.stream, nil
		}
	}

	rc, err := r.open(port, baudrate)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	entry := &streamEntry{
		stream:   newForceStream(rc, logger),
		baudrate: baudrate,
		refCount: 1,
	}
	r.entries[port] = entry
	if logger != nil {
		logger.Infof("opened force stream on %s at %d baud", port, baudrate)
	}
	return entry.stream, nil
}

// Release drops the reference to stream on port and closes the port with
// the last one.
func (r *StreamRegistry) Release(port string, stream *forceStream) error {
	r.mu.Lock()
	if entry, exists := r.retired[stream]; exists {
		entry.refCount--
		if entry.refCount <= 0 {
			delete(r.retired, stream)
		}
		r.mu.Unlock()
		return nil
	}
	entry, exists := r.entries[port]
	if !exists || entry.stream != stream {
		r.mu.Unlock()
		return fmt.Errorf("no open stream for %s", port)
	}
	entry.refCount--
	if entry.refCount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, port)
	r.mu.Unlock()

	return entry.stream.Close()
}

// RefCount reports how many holders the current stream on port has.
func (r *StreamRegistry) RefCount(port string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, exists := r.entries[port]; exists {
		return entry.refCount
	}
	return 0
}
