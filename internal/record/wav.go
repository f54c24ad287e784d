package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// writeWAV drains frames to a 16-bit PCM WAV file. Samples are clamped to
// [-1, 1] before conversion so clipped input cannot wrap around.
func writeWAV(path string, sampleRate, channels int, frames [][]float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}

	var sampleCount int
	for _, frame := range frames {
		sampleCount += len(frame)
	}
	dataSize := sampleCount * 2

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeWAVHeader(w, sampleRate, channels, dataSize); err != nil {
		return err
	}

	buf := make([]byte, 2)
	for _, frame := range frames {
		for _, s := range frame {
			binary.LittleEndian.PutUint16(buf, uint16(pcm16(s)))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write samples: %w", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush wav file: %w", err)
	}
	return f.Sync()
}

func writeWAVHeader(w *bufio.Writer, sampleRate, channels, dataSize int) error {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	var hdr []byte
	hdr = append(hdr, "RIFF"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(36+dataSize))
	hdr = append(hdr, "WAVE"...)
	hdr = append(hdr, "fmt "...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1) // PCM
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(channels))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(sampleRate))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(byteRate))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(blockAlign))
	hdr = binary.LittleEndian.AppendUint16(hdr, 16) // bits per sample
	hdr = append(hdr, "data"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(dataSize))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	return nil
}

func pcm16(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}
