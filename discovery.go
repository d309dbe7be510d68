// discovery.go
package force_push

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var DiscoveryModel = resource.NewModel("devrel", "force-push", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newForceDiscovery,
		})
}

const probeLines = 5

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct {
	Baudrate int `json:"baudrate,omitempty"`
	// SkipProbe proposes every candidate port without reading from it.
	SkipProbe      bool `json:"skip_probe,omitempty"`
	ProbeTimeoutMs int  `json:"probe_timeout_ms,omitempty"`
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultForceBaudrate
	}
	if cfg.ProbeTimeoutMs == 0 {
		cfg.ProbeTimeoutMs = 500
	}
	return nil, nil, nil
}

// forceDiscovery implements the discovery service
type forceDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
	cfg    *DiscoveryConfig

	// swapped out in tests
	listPorts func() []string
	probe     func(portPath string) bool
}

func newForceDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	dis := &forceDiscovery{
		Named:     conf.ResourceName().AsNamed(),
		logger:    logger,
		cfg:       cfg,
		listPorts: enumerateSerialPorts,
	}
	dis.probe = dis.probeForceStream
	return dis, nil
}

// DiscoverResources scans serial ports for force sensors and returns sensor configurations
func (dis *forceDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting force sensor discovery")

	allPorts := dis.listPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if !dis.cfg.SkipProbe && !dis.probe(portPath) {
			dis.logger.Debugf("No force samples on %s", portPath)
			continue
		}

		portSuffix := extractPortSuffix(portPath)
		biasFile := findBiasFile(moduleDataDir, portSuffix, dis.logger)
		allConfigs = append(allConfigs, dis.generateConfig(portPath, portSuffix, biasFile))
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No force sensors discovered")
	} else {
		dis.logger.Infof("Discovered %d force sensors", len(allConfigs))
	}
	return allConfigs, nil
}

func (dis *forceDiscovery) generateConfig(portPath, portSuffix, biasFile string) resource.Config {
	attrs := map[string]interface{}{
		"port":     portPath,
		"baudrate": dis.cfg.Baudrate,
	}
	if biasFile != "" {
		attrs["bias_file"] = biasFile
	}
	return resource.Config{
		Name:       "force-" + portSuffix,
		API:        sensor.API,
		Model:      ForceSensorModel,
		Attributes: attrs,
	}
}

// probeForceStream opens the port and looks for a parseable force line
func (dis *forceDiscovery) probeForceStream(portPath string) bool {
	port, err := serial.Open(portPath, &serial.Mode{BaudRate: dis.cfg.Baudrate})
	if err != nil {
		dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer port.Close()

	if err := port.SetReadTimeout(time.Duration(dis.cfg.ProbeTimeoutMs) * time.Millisecond); err != nil {
		return false
	}
	return containsForceLine(eofOnTimeout{port}, probeLines)
}

// eofOnTimeout ends the stream when a read times out; serial ports report
// a timeout as a zero length read.
type eofOnTimeout struct {
	r io.Reader
}

func (e eofOnTimeout) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// containsForceLine reports whether one of the first n lines parses as a
// force sample. The first line may be partial.
func containsForceLine(r io.Reader, n int) bool {
	scanner := bufio.NewScanner(r)
	for i := 0; i < n && scanner.Scan(); i++ {
		if _, err := parseForceLine(strings.TrimSpace(scanner.Text())); err == nil {
			return true
		}
	}
	return false
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port looks like a USB serial adapter
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// findBiasFile looks for a saved bias for the port in moduleDataDir.
// Returns just the filename or empty string if not found
func findBiasFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	name := portSuffix + "_force_bias.json"
	if _, err := os.Stat(filepath.Join(moduleDataDir, name)); err == nil {
		logger.Debugf("Found force bias file: %s", name)
		return name
	}
	logger.Debug("No force bias file found")
	return ""
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
