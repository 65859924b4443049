// voiceprobe replays microphone-style PCM frames against a running parley
// server and reports how the agent takes turns: when it acknowledges an
// utterance, how much audio it streams back, and whether barge-in cuts a
// response short.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/protocol"
)

type options struct {
	baseURL      string
	wavPath      string
	turns        int
	sampleRate   int
	frameSamples int
	speech       time.Duration
	turnTimeout  time.Duration
	quietWindow  time.Duration
	realtime     float64
	verbose      bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var speechMS, turnTimeoutMS, quietMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:3001", "parley base URL")
	flag.StringVar(&cfg.wavPath, "wav", "", "WAV file to use as the user's voice (synthetic tone if empty)")
	flag.IntVar(&cfg.turns, "turns", 3, "number of utterances to replay")
	flag.IntVar(&cfg.sampleRate, "sample-rate", 16000, "microphone sample rate in Hz")
	flag.IntVar(&cfg.frameSamples, "frame-samples", 512, "samples per uploaded frame")
	flag.IntVar(&speechMS, "speech-ms", 1000, "duration of speech per utterance in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the agent's response per turn")
	flag.IntVar(&quietMS, "quiet-ms", 1500, "silence from the agent that ends a turn, in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.sampleRate <= 0 || cfg.frameSamples <= 0 {
		return options{}, fmt.Errorf("sample-rate and frame-samples must be > 0")
	}
	if speechMS < 100 {
		return options{}, fmt.Errorf("speech-ms must be >= 100")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	cfg.speech = time.Duration(speechMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.quietWindow = time.Duration(quietMS) * time.Millisecond
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	return cfg, nil
}

func run(cfg options) error {
	pcm, err := loadVoice(cfg)
	if err != nil {
		return fmt.Errorf("prepare voice audio: %w", err)
	}

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var chunks, chunkBytes atomic.Int64
	interruptCh := make(chan struct{}, 8)
	chunkCh := make(chan struct{}, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, interruptCh, chunkCh, readErrCh, &chunks, &chunkBytes)

	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		if cfg.verbose {
			fmt.Printf("voiceprobe: turn %d/%d speaking %s\n", i+1, cfg.turns, cfg.speech)
		}
		if err := sendSpeech(conn, cfg, pcm); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		if err := awaitSignal(interruptCh, readErrCh, cfg.turnTimeout, "interrupt notice"); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if err := awaitSignal(chunkCh, readErrCh, cfg.turnTimeout, "first response chunk"); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		awaitQuiet(chunkCh, cfg.quietWindow, cfg.turnTimeout)
		if cfg.verbose {
			fmt.Printf("voiceprobe: turn %d/%d agent done, %d chunks / %d bytes so far\n",
				i+1, cfg.turns, chunks.Load(), chunkBytes.Load())
		}
	}

	fmt.Printf("voiceprobe: completed %d turns, received %d chunks (%d bytes)\n",
		cfg.turns, chunks.Load(), chunkBytes.Load())
	return nil
}

// loadVoice returns mono PCM16LE at the microphone rate, either decoded
// from the given WAV or synthesized as a tone loud enough to classify as
// speech.
func loadVoice(cfg options) ([]byte, error) {
	if strings.TrimSpace(cfg.wavPath) != "" {
		clip, err := audio.DecodeWAVFile(cfg.wavPath)
		if err != nil {
			return nil, err
		}
		samples := audio.BytesToSamples(clip.PCM)
		samples = audio.DownmixMono(samples, clip.Channels)
		samples = audio.Resample(samples, clip.SampleRate, cfg.sampleRate)
		return audio.SamplesToBytes(samples), nil
	}

	n := cfg.sampleRate * int(cfg.speech/time.Millisecond) / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*220*float64(i)/float64(cfg.sampleRate)))
	}
	return audio.SamplesToBytes(samples), nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, interruptCh, chunkCh chan<- struct{}, readErrCh chan<- error, chunks, chunkBytes *atomic.Int64) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		switch {
		case env.Data.ServerContent.Interrupted:
			select {
			case interruptCh <- struct{}{}:
			default:
			}
		case env.Data.ServerContent.ModelTurn != nil:
			for _, part := range env.Data.ServerContent.ModelTurn.Parts {
				raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					continue
				}
				chunks.Add(1)
				chunkBytes.Add(int64(len(raw)))
			}
			select {
			case chunkCh <- struct{}{}:
			default:
			}
		}
	}
}

// sendSpeech uploads cfg.speech worth of audio as fixed-size binary frames,
// paced at the microphone's real rate divided by the realtime multiplier.
func sendSpeech(conn *websocket.Conn, cfg options, pcm []byte) error {
	frameBytes := cfg.frameSamples * 2
	frameDuration := time.Duration(float64(cfg.frameSamples) * float64(time.Second) / (float64(cfg.sampleRate) * cfg.realtime))

	total := cfg.sampleRate * 2 * int(cfg.speech/time.Millisecond) / 1000
	sent := 0
	for sent < total {
		frame := make([]byte, frameBytes)
		for i := 0; i < frameBytes; i++ {
			frame[i] = pcm[(sent+i)%len(pcm)]
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
		sent += frameBytes
		time.Sleep(frameDuration)
	}
	return nil
}

func awaitSignal(ch <-chan struct{}, readErrCh <-chan error, timeout time.Duration, what string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case err := <-readErrCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s waiting for %s", timeout, what)
	}
}

// awaitQuiet waits until no chunk has arrived for quietWindow, which marks
// the end of the agent's response, or until the overall timeout passes.
func awaitQuiet(chunkCh <-chan struct{}, quietWindow, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		timer := time.NewTimer(quietWindow)
		select {
		case <-chunkCh:
			timer.Stop()
			if time.Now().After(deadline) {
				return
			}
		case <-timer.C:
			return
		}
	}
}
