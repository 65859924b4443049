package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWAV reports input that is not a RIFF/WAVE stream.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// ErrUnsupportedFormat reports WAV data that is not 16-bit PCM.
var ErrUnsupportedFormat = errors.New("unsupported WAV format")

// Clip is decoded PCM16LE audio together with its layout.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVFile reads a WAV file from disk and decodes it.
func DecodeWAVFile(path string) (Clip, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(raw)
}

// DecodeWAV parses a RIFF/WAVE stream holding 16-bit PCM audio. Chunks other
// than fmt and data are skipped. Only format tag 1 (PCM) at 16 bits per
// sample is accepted.
func DecodeWAV(raw []byte) (Clip, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		clip      Clip
		haveFmt   bool
		haveData  bool
		bitsPer   uint16
		formatTag uint16
	)

	offset := 12
	for offset+8 <= len(raw) {
		id := string(raw[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(raw) {
			// Tolerate a truncated final chunk by clamping to what we have.
			size = len(raw) - body
			if size < 0 {
				break
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrUnsupportedFormat, size)
			}
			formatTag = binary.LittleEndian.Uint16(raw[body : body+2])
			clip.Channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bitsPer = binary.LittleEndian.Uint16(raw[body+14 : body+16])
			haveFmt = true
		case "data":
			clip.PCM = raw[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}

	if !haveFmt || !haveData {
		return Clip{}, ErrNotWAV
	}
	if formatTag != 1 || bitsPer != 16 {
		return Clip{}, fmt.Errorf("%w: format tag %d, %d bits per sample", ErrUnsupportedFormat, formatTag, bitsPer)
	}
	if clip.Channels <= 0 || clip.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, clip.Channels, clip.SampleRate)
	}
	return clip, nil
}
