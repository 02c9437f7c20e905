// Command livecapture records a two-party call from the local machine's
// microphone and an output-monitor/loopback device, writing the result
// through the pipeline package. Device resolution and stream lifecycle
// follow the reference client's audio.go Start() sequencing (open capture,
// open playback-monitor, start both, tear down in reverse on any failure).
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/config"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/pcm"
	"github.com/AmjadDardouk/cs-audio-recorder/pipeline"
)

const frameSize = 480 // 10ms at 48kHz, matches config.DSP.FrameMs default

func main() {
	outDir := flag.String("out", ".", "output directory root (Calls/YYYY/MM/DD/... is created beneath it)")
	label := flag.String("label", "", "recording label, used in the output filename")
	configPath := flag.String("config", "", "path to a JSON config file; uses defaults if unset")
	inputDeviceIdx := flag.Int("input-device", -1, "input (microphone) device index, -1 for system default")
	loopbackDeviceIdx := flag.Int("loopback-device", -1, "loopback/monitor device index, -1 for system default")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		cfg = config.Load(*configPath)
	}

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("[livecapture] portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		log.Fatalf("[livecapture] enumerate devices: %v", err)
	}

	inputDev, err := resolveDevice(devices, *inputDeviceIdx, portaudio.DefaultInputDevice)
	if err != nil {
		log.Fatalf("[livecapture] resolve input device: %v", err)
	}
	loopbackDev, err := resolveDevice(devices, *loopbackDeviceIdx, portaudio.DefaultInputDevice)
	if err != nil {
		log.Fatalf("[livecapture] resolve loopback device: %v", err)
	}

	sampleRate := float64(cfg.Recording.SampleRateHz)

	micBuf := make([]float32, frameSize)
	micParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: 1,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	micStream, err := portaudio.OpenStream(micParams, micBuf)
	if err != nil {
		log.Fatalf("[livecapture] open mic stream: %v", err)
	}

	loopbackBuf := make([]float32, frameSize)
	loopbackParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   loopbackDev,
			Channels: 1,
			Latency:  loopbackDev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	loopbackStream, err := portaudio.OpenStream(loopbackParams, loopbackBuf)
	if err != nil {
		micStream.Close()
		log.Fatalf("[livecapture] open loopback stream: %v", err)
	}

	fmtF32 := pcm.SourceFormat{Encoding: pcm.EncodingFloat32, SampleRateHz: cfg.Recording.SampleRateHz, Channels: 1}
	session, err := pipeline.NewSession(*outDir, *label, fmtF32, fmtF32, cfg)
	if err != nil {
		micStream.Close()
		loopbackStream.Close()
		log.Fatalf("[livecapture] create session: %v", err)
	}

	if err := micStream.Start(); err != nil {
		log.Fatalf("[livecapture] start mic stream: %v", err)
	}
	if err := loopbackStream.Start(); err != nil {
		micStream.Stop()
		log.Fatalf("[livecapture] start loopback stream: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopCh := make(chan struct{})
	go captureLoop(micStream, micBuf, fmtF32, session.AppendMic, stopCh)
	go captureLoop(loopbackStream, loopbackBuf, fmtF32, session.AppendSpeaker, stopCh)

	log.Printf("[livecapture] recording started: mic=%s loopback=%s", inputDev.Name, loopbackDev.Name)
	<-sigCh
	close(stopCh)

	micStream.Stop()
	micStream.Close()
	loopbackStream.Stop()
	loopbackStream.Close()

	result, err := session.Finalize()
	if err != nil {
		log.Fatalf("[livecapture] finalize: %v", err)
	}
	log.Printf("[livecapture] finalized: path=%s segments=%d erle=%.1fdB",
		result.FinalPath, len(result.SegmentPaths), result.Diagnostics.ERLEDB)
}

func captureLoop(stream *portaudio.Stream, buf []float32, fmtF32 pcm.SourceFormat, feed func([]byte, pcm.SourceFormat) error, stop <-chan struct{}) {
	bytes := make([]byte, len(buf)*4)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			log.Printf("[livecapture] stream read error: %v", err)
			continue
		}
		floatBufToBytes(buf, bytes)
		if err := feed(bytes, fmtF32); err != nil {
			log.Printf("[livecapture] append error: %v", err)
		}
	}
}

func floatBufToBytes(buf []float32, dst []byte) {
	for i, s := range buf {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}
