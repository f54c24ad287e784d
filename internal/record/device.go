package record

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// DeviceSource opens portaudio input streams. A device hint selects the
// input by numeric index or case-insensitive name substring; when the chosen
// device fails to open, one fallback input device is tried before giving up.
type DeviceSource struct {
	sampleRate int
	channels   int
	deviceHint string

	initOnce sync.Once
	initErr  error
}

// NewDeviceSource creates a portaudio-backed stream source.
func NewDeviceSource(sampleRate, channels int, deviceHint string) *DeviceSource {
	return &DeviceSource{
		sampleRate: sampleRate,
		channels:   channels,
		deviceHint: strings.TrimSpace(deviceHint),
	}
}

// Open opens an input stream delivering frames to onFrame.
func (s *DeviceSource) Open(onFrame func(samples []float32)) (Stream, error) {
	s.initOnce.Do(func() { s.initErr = portaudio.Initialize() })
	if s.initErr != nil {
		return nil, fmt.Errorf("portaudio init: %w", s.initErr)
	}

	dev, err := s.resolveDevice()
	if err != nil {
		return nil, err
	}

	stream, err := s.openOn(dev, onFrame)
	if err == nil {
		return stream, nil
	}
	slog.Error("failed to open audio stream", "device", deviceName(dev), "error", err)

	fallback := s.fallbackDevice(dev)
	if fallback == nil {
		s.logInputDevices()
		return nil, err
	}

	slog.Info("retrying audio stream with fallback device", "device", fallback.Name)
	stream, fbErr := s.openOn(fallback, onFrame)
	if fbErr != nil {
		slog.Error("fallback audio device also failed", "device", fallback.Name, "error", fbErr)
		s.logInputDevices()
		return nil, err
	}
	return stream, nil
}

// Close releases portaudio. Call once at shutdown.
func (s *DeviceSource) Close() error {
	return portaudio.Terminate()
}

func (s *DeviceSource) openOn(dev *portaudio.DeviceInfo, onFrame func([]float32)) (Stream, error) {
	if dev == nil {
		var err error
		dev, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onFrame(in)
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// resolveDevice maps the configured hint to a device. An empty hint means
// the default device (returned as nil so openOn resolves it).
func (s *DeviceSource) resolveDevice() (*portaudio.DeviceInfo, error) {
	if s.deviceHint == "" {
		return nil, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		slog.Warn("could not query audio devices for configured input", "hint", s.deviceHint, "error", err)
		return nil, nil
	}

	if idx, convErr := strconv.Atoi(s.deviceHint); convErr == nil {
		if idx >= 0 && idx < len(devices) {
			return devices[idx], nil
		}
		slog.Warn("configured audio input index out of range", "index", idx)
		return nil, nil
	}

	hint := strings.ToLower(s.deviceHint)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), hint) {
			slog.Info("matched configured audio input", "hint", s.deviceHint, "device", dev.Name)
			return dev, nil
		}
	}

	slog.Warn("configured audio input not found, using default device", "hint", s.deviceHint)
	return nil, nil
}

// fallbackDevice returns the first usable input device other than exclude.
func (s *DeviceSource) fallbackDevice(exclude *portaudio.DeviceInfo) *portaudio.DeviceInfo {
	devices, err := portaudio.Devices()
	if err != nil {
		slog.Warn("could not query audio devices for fallback", "error", err)
		return nil
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && dev != exclude {
			return dev
		}
	}
	return nil
}

func (s *DeviceSource) logInputDevices() {
	devices, err := portaudio.Devices()
	if err != nil {
		slog.Error("unable to list audio devices", "error", err)
		return
	}
	for i, dev := range devices {
		if dev.MaxInputChannels > 0 {
			slog.Info("detected input device", "index", i, "name", dev.Name, "inputs", dev.MaxInputChannels, "default_sample_rate", dev.DefaultSampleRate)
		}
	}
}

func deviceName(dev *portaudio.DeviceInfo) string {
	if dev == nil {
		return "default"
	}
	return dev.Name
}
