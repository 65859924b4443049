package playback

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/antoniostano/parley/internal/audio"
)

// ErrNoSource reports that the library holds no playable audio.
var ErrNoSource = errors.New("no audio source available")

// Library provides the agent's response audio: pick a source, then decode
// it to playable PCM at the session's output rate (mono, 16-bit).
type Library interface {
	Pick() (string, error)
	Decode(name string, targetRate int) ([]byte, error)
}

// FileLibrary serves WAV files from a directory. Selection is uniform
// random among the .wav files present at pick time, so files can be added
// or removed while the service runs.
type FileLibrary struct {
	dir string
}

func NewFileLibrary(dir string) *FileLibrary {
	return &FileLibrary{dir: dir}
}

// List returns the names of all playable sources, sorted by the directory
// listing order.
func (l *FileLibrary) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read audio dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Pick selects one source uniformly at random.
func (l *FileLibrary) Pick() (string, error) {
	names, err := l.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoSource, l.dir)
	}
	return names[rand.Intn(len(names))], nil
}

// Decode loads a WAV source and converts it to mono PCM16LE at targetRate.
func (l *FileLibrary) Decode(name string, targetRate int) ([]byte, error) {
	clip, err := audio.DecodeWAVFile(filepath.Join(l.dir, name))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	samples := audio.BytesToSamples(clip.PCM)
	samples = audio.DownmixMono(samples, clip.Channels)
	samples = audio.Resample(samples, clip.SampleRate, targetRate)
	return audio.SamplesToBytes(samples), nil
}
