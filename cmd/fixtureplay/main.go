// Command fixtureplay replays mic/speaker WAV fixtures through the
// pipeline offline, useful for exercising mismatched sample rates, bit
// depths, and leakage/echo scenarios without live hardware. It reads
// canonical RIFF/WAVE fixtures directly (16-bit PCM or float32), the same
// header layout internal/wav writes.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/config"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/pcm"
	"github.com/AmjadDardouk/cs-audio-recorder/pipeline"
)

const frameBytesPCM16 = 2
const fixtureFrameMs = 10

func main() {
	micPath := flag.String("mic", "", "path to a mono mic WAV fixture")
	spkPath := flag.String("speaker", "", "path to a mono speaker/far-end WAV fixture")
	outDir := flag.String("out", ".", "output directory root")
	label := flag.String("label", "fixture", "recording label")
	configPath := flag.String("config", "", "path to a JSON config file; uses defaults if unset")
	flag.Parse()

	if *micPath == "" || *spkPath == "" {
		log.Fatal("[fixtureplay] -mic and -speaker are required")
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg = config.Load(*configPath)
	}

	micFmt, micData, err := readWAVFixture(*micPath)
	if err != nil {
		log.Fatalf("[fixtureplay] read mic fixture: %v", err)
	}
	spkFmt, spkData, err := readWAVFixture(*spkPath)
	if err != nil {
		log.Fatalf("[fixtureplay] read speaker fixture: %v", err)
	}

	session, err := pipeline.NewSession(*outDir, *label, micFmt, spkFmt, cfg)
	if err != nil {
		log.Fatalf("[fixtureplay] create session: %v", err)
	}

	micFrameBytes := frameBytesForFormat(micFmt)
	spkFrameBytes := frameBytesForFormat(spkFmt)

	for i := 0; i*micFrameBytes < len(micData) || i*spkFrameBytes < len(spkData); i++ {
		micOff := i * micFrameBytes
		spkOff := i * spkFrameBytes
		if micOff+micFrameBytes <= len(micData) {
			if err := session.AppendMic(micData[micOff:micOff+micFrameBytes], micFmt); err != nil {
				log.Printf("[fixtureplay] append mic: %v", err)
			}
		}
		if spkOff+spkFrameBytes <= len(spkData) {
			if err := session.AppendSpeaker(spkData[spkOff:spkOff+spkFrameBytes], spkFmt); err != nil {
				log.Printf("[fixtureplay] append speaker: %v", err)
			}
		}
	}

	result, err := session.Finalize()
	if err != nil {
		log.Fatalf("[fixtureplay] finalize: %v", err)
	}
	fmt.Printf("final_path=%s segments=%d erle_db=%.1f leak_corr_db=%.1f\n",
		result.FinalPath, len(result.SegmentPaths), result.Diagnostics.ERLEDB, result.Diagnostics.LeakCorrDB)
}

func frameBytesForFormat(f pcm.SourceFormat) int {
	bytesPerSample := frameBytesPCM16
	if f.Encoding == pcm.EncodingFloat32 {
		bytesPerSample = 4
	}
	frameSize := f.SampleRateHz * fixtureFrameMs / 1000
	return frameSize * f.Channels * bytesPerSample
}

// readWAVFixture reads a canonical 44-byte-header RIFF/WAVE file and
// returns its source format plus the raw PCM payload.
func readWAVFixture(path string) (pcm.SourceFormat, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pcm.SourceFormat{}, nil, err
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return pcm.SourceFormat{}, nil, fmt.Errorf("not a canonical RIFF/WAVE file: %s", path)
	}
	formatCode := binary.LittleEndian.Uint16(data[20:22])
	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	rate := int(binary.LittleEndian.Uint32(data[24:28]))
	bits := binary.LittleEndian.Uint16(data[34:36])

	enc := pcm.EncodingPCM16
	if formatCode == 3 || bits == 32 {
		enc = pcm.EncodingFloat32
	}

	payload := data[44:]
	return pcm.SourceFormat{Encoding: enc, SampleRateHz: rate, Channels: channels}, payload, nil
}
