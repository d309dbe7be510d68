package force_push

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

// fakePorts hands out pipes in place of serial ports.
type fakePorts struct {
	mu      sync.Mutex
	opened  map[string]int
	writers map[string]*io.PipeWriter
	fail    error
}

func newFakePorts() *fakePorts {
	return &fakePorts{
		opened:  make(map[string]int),
		writers: make(map[string]*io.PipeWriter),
	}
}

func (f *fakePorts) open(port string, baudrate int) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	r, w := io.Pipe()
	f.opened[port]++
	f.writers[port] = w
	return r, nil
}

func (f *fakePorts) writer(port string) *io.PipeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[port]
}

func (f *fakePorts) openCount(port string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[port]
}

// TestRegistryCreation tests basic registry creation and initialization
func TestRegistryCreation(t *testing.T) {
	registry := NewStreamRegistry(newFakePorts().open)

	if registry == nil {
		t.Fatal("NewStreamRegistry returned nil")
	}
	if registry.entries == nil {
		t.Fatal("Registry entries map not initialized")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Registry should start empty")
	}
}

// TestSharedAccess tests that holders of the same port share one stream
func TestSharedAccess(t *testing.T) {
	ports := newFakePorts()
	registry := NewStreamRegistry(ports.open)
	logger := logging.NewTestLogger(t)
	port := "/dev/ttyUSB0"

	first, err := registry.Acquire(port, 115200, logger)
	if err != nil {
		t.Fatalf("Failed to acquire stream: %v", err)
	}
	second, err := registry.Acquire(port, 115200, logger)
	if err != nil {
		t.Fatalf("Failed to acquire stream again: %v", err)
	}

	if first != second {
		t.Fatal("Expected the same stream for the same port")
	}
	if ports.openCount(port) != 1 {
		t.Fatalf("Expected port to be opened once, got %d", ports.openCount(port))
	}
	if got := registry.RefCount(port); got != 2 {
		t.Fatalf("Expected refCount 2, got %d", got)
	}

	if err := registry.Release(port, first); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := registry.RefCount(port); got != 1 {
		t.Fatalf("Expected refCount 1 after release, got %d", got)
	}

	if err := registry.Release(port, second); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := registry.RefCount(port); got != 0 {
		t.Fatalf("Expected refCount 0 after final release, got %d", got)
	}

	// the reader sees the port closed
	if _, err := ports.writer(port).Write([]byte("1,2\n")); err == nil {
		t.Fatal("Expected write to closed port to fail")
	}

	if err := registry.Release(port, first); err == nil {
		t.Fatal("Expected error releasing a port with no holders")
	}
}

// TestConfigConflict tests that a port cannot be shared at two baud rates
func TestConfigConflict(t *testing.T) {
	registry := NewStreamRegistry(newFakePorts().open)
	logger := logging.NewTestLogger(t)

	stream, err := registry.Acquire("/dev/ttyUSB0", 115200, logger)
	if err != nil {
		t.Fatalf("Failed to acquire stream: %v", err)
	}
	defer registry.Release("/dev/ttyUSB0", stream)

	if _, err := registry.Acquire("/dev/ttyUSB0", 9600, logger); err == nil {
		t.Fatal("Expected conflict error for different baudrate")
	}
	if got := registry.RefCount("/dev/ttyUSB0"); got != 1 {
		t.Fatalf("Conflicting acquire must not change refCount, got %d", got)
	}
}

// TestOpenFailure tests that a failed open leaves no entry behind
func TestOpenFailure(t *testing.T) {
	ports := newFakePorts()
	ports.fail = errors.New("no such device")
	registry := NewStreamRegistry(ports.open)

	if _, err := registry.Acquire("/dev/ttyUSB9", 115200, nil); err == nil {
		t.Fatal("Expected error opening port")
	}
	if len(registry.entries) != 0 {
		t.Fatalf("Expected no registry entries, got %d", len(registry.entries))
	}

	ports.mu.Lock()
	ports.fail = nil
	ports.mu.Unlock()
	stream, err := registry.Acquire("/dev/ttyUSB9", 115200, nil)
	if err != nil {
		t.Fatalf("Expected retry to succeed: %v", err)
	}
	registry.Release("/dev/ttyUSB9", stream)
}

// TestConcurrentAcquire tests concurrent access to the same and different ports
func TestConcurrentAcquire(t *testing.T) {
	ports := newFakePorts()
	registry := NewStreamRegistry(ports.open)
	names := []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0"}

	const holders = 5
	var wg sync.WaitGroup
	for _, port := range names {
		for i := 0; i < holders; i++ {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if _, err := registry.Acquire(p, 115200, nil); err != nil {
					t.Errorf("Acquire %s failed: %v", p, err)
				}
			}(port)
		}
	}
	wg.Wait()

	for _, port := range names {
		if got := registry.RefCount(port); got != holders {
			t.Fatalf("Expected refCount %d for %s, got %d", holders, port, got)
		}
		if ports.openCount(port) != 1 {
			t.Fatalf("Expected %s to be opened once, got %d", port, ports.openCount(port))
		}
	}

	for _, port := range names {
		stream := registry.entries[port].stream
		for i := 0; i < holders; i++ {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if err := registry.Release(p, stream); err != nil {
					t.Errorf("Release %s failed: %v", p, err)
				}
			}(port)
		}
	}
	wg.Wait()

	if len(registry.entries) != 0 {
		t.Fatalf("Expected 0 registry entries after release, got %d", len(registry.entries))
	}
}

// TestReopenAfterStreamStops tests that a stream whose device went away is
// replaced on the next acquire, and that the old holder's release leaves the
// new stream alone
func TestReopenAfterStreamStops(t *testing.T) {
	ports := newFakePorts()
	registry := NewStreamRegistry(ports.open)
	logger := logging.NewTestLogger(t)
	port := "/dev/ttyUSB0"

	old, err := registry.Acquire(port, 115200, logger)
	if err != nil {
		t.Fatalf("Failed to acquire stream: %v", err)
	}
	ports.writer(port).CloseWithError(errors.New("device gone"))
	deadline := time.Now().Add(time.Second)
	for old.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Expected stream to stop after the device went away")
		}
		time.Sleep(time.Millisecond)
	}

	fresh, err := registry.Acquire(port, 115200, logger)
	if err != nil {
		t.Fatalf("Failed to reacquire stream: %v", err)
	}
	if fresh == old {
		t.Fatal("Expected a new stream after the old one stopped")
	}
	if ports.openCount(port) != 2 {
		t.Fatalf("Expected port to be reopened, got %d opens", ports.openCount(port))
	}

	if err := registry.Release(port, old); err != nil {
		t.Fatalf("Releasing the stopped stream failed: %v", err)
	}
	if got := registry.RefCount(port); got != 1 {
		t.Fatalf("Expected new stream to keep refCount 1, got %d", got)
	}

	if _, err := ports.writer(port).Write([]byte("1,2\n")); err != nil {
		t.Fatalf("Write to reopened port failed: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for fresh.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected a sample on the reopened stream")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := fresh.Latest(); err != nil {
		t.Fatalf("Expected reading from reopened stream: %v", err)
	}

	if err := registry.Release(port, fresh); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(registry.retired) != 0 || len(registry.entries) != 0 {
		t.Fatalf("Expected registry to be empty, got %d entries and %d retired", len(registry.entries), len(registry.retired))
	}
}
