// Command iavoz-talk holds a tutoring session against a running iavoz
// backend, using a WAV file as the learner's microphone.
//
// The file is streamed in real time, cut into chunks as advertised by the
// backend's /config (pre-roll chunk count and chunk duration), followed by
// silence so the provider's voice activity detection can close the last
// utterance.
// Transcripts, correction cards and assistant replies are logged as they
// arrive; the lesson journal is printed at the end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/iavoz/internal/tutor"
	"github.com/MrWong99/iavoz/pkg/audio"
	"github.com/MrWong99/iavoz/pkg/client"
	"github.com/MrWong99/iavoz/pkg/realtime"
	"github.com/MrWong99/iavoz/pkg/realtime/webrtc"
	"github.com/MrWong99/iavoz/pkg/realtime/wsconn"
	"github.com/MrWong99/iavoz/pkg/types"
)

// Capture layout used when the backend does not advertise one.
const (
	defaultChunk   = 100 * time.Millisecond
	defaultPreRoll = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	server := flag.String("server", envOr("IAVOZ_SERVER", "http://localhost:3000"), "tutor backend base URL")
	wavPath := flag.String("wav", "", "16-bit PCM WAV file with the learner's speech")
	transport := flag.String("transport", "webrtc", "realtime transport: webrtc or websocket")
	lesson := flag.String("lesson", uuid.NewString(), "lesson id used for the correction journal")
	text := flag.String("text", "", "typed message sent after connecting")
	linger := flag.Duration("linger", 15*time.Second, "silence streamed after the file so replies can finish")
	preRoll := flag.Int("pre-roll", -1, "pre-roll chunks kept before speech start (default: from the backend)")
	chunkLen := flag.Duration("chunk", 0, "capture chunk duration (default: from the backend)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *wavPath == "" && *text == "" {
		fmt.Fprintln(os.Stderr, "iavoz-talk: one of -wav or -text is required")
		return 2
	}

	dialer, rate, err := newDialer(*transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iavoz-talk: %v\n", err)
		return 2
	}

	var pcm []byte
	if *wavPath != "" {
		pcm, err = loadSpeech(*wavPath, rate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iavoz-talk: %v\n", err)
			return 1
		}
	}

	backend, err := client.New(*server, client.WithTimeout(30*time.Second))
	if err != nil {
		fmt.Fprintf(os.Stderr, "iavoz-talk: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.With("lesson_id", *lesson)

	cfgCtx, cancelCfg := context.WithTimeout(ctx, 10*time.Second)
	caps, err := backend.Config(cfgCtx)
	cancelCfg()
	if err != nil {
		log.Error("fetch backend config", "err", err)
		return 1
	}
	layout := captureLayoutFor(caps, *preRoll, *chunkLen)
	log.Debug("capture layout", "pre_roll", layout.preRoll, "chunk", layout.chunk)

	co := tutor.New(backend, dialer,
		tutor.WithCapture(audio.NewRecorder(audio.Mono(rate), layout.preRoll)),
		tutor.WithObserver(consoleObserver(log)),
		tutor.WithLessonID(*lesson),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(gctx)
	g.Go(func() error { return co.Run(runCtx) })
	g.Go(func() error {
		defer stopRun()
		return talk(gctx, co, pcm, rate, layout.chunk, *text, *linger)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("session failed", "err", err)
		return 1
	}

	printJournal(backend, *lesson)
	return 0
}

type captureLayout struct {
	preRoll int
	chunk   time.Duration
}

// captureLayoutFor takes the pre-roll and chunk duration from caps unless
// overridden by flags. A negative preRoll or zero chunk means no override.
func captureLayoutFor(caps types.Capabilities, preRoll int, chunk time.Duration) captureLayout {
	l := captureLayout{preRoll: defaultPreRoll, chunk: defaultChunk}
	if caps.PreRollChunks > 0 {
		l.preRoll = caps.PreRollChunks
	}
	if caps.ChunkMS > 0 {
		l.chunk = time.Duration(caps.ChunkMS) * time.Millisecond
	}
	if preRoll >= 0 {
		l.preRoll = preRoll
	}
	if chunk > 0 {
		l.chunk = chunk
	}
	return l
}

// talk connects, streams pcm in chunk-sized pieces followed by silence, and
// disconnects.
func talk(ctx context.Context, co *tutor.Coordinator, pcm []byte, rate int, chunkDuration time.Duration, text string, linger time.Duration) error {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := co.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer co.Disconnect()

	if text != "" {
		if err := co.SendText(ctx, text); err != nil {
			return err
		}
	}

	f := audio.Mono(rate)
	chunk := f.BytesFor(chunkDuration)
	silence := make([]byte, chunk)
	chunks := audio.Split(pcm, chunk)
	for range int(linger / chunkDuration) {
		chunks = append(chunks, silence)
	}

	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()
	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := co.FeedAudio(c); err != nil {
			return err
		}
		s, err := co.State(ctx)
		if err != nil {
			return err
		}
		if s.State == tutor.StateDisconnected {
			return errors.New("session ended by the transport")
		}
	}
	return nil
}

func newDialer(name string) (realtime.Dialer, int, error) {
	switch name {
	case "webrtc":
		return webrtc.NewDialer(), audio.SampleRateWebRTC, nil
	case "websocket", "ws":
		return wsconn.NewDialer(), audio.SampleRateRealtime, nil
	default:
		return nil, 0, fmt.Errorf("unknown transport %q (want webrtc or websocket)", name)
	}
}

// loadSpeech reads a WAV file and converts it to mono PCM16 at rate.
func loadSpeech(path string, rate int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("wav file %q not found", path)
		}
		return nil, err
	}
	defer f.Close()

	pcm, format, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	slog.Debug("loaded speech", "path", path, "format", format.String(), "duration", format.Duration(len(pcm)))
	return audio.ToMono(pcm, format, rate), nil
}

func consoleObserver(log *slog.Logger) tutor.ObserverFuncs {
	return tutor.ObserverFuncs{
		Status: func(s tutor.State) { log.Info("status", "state", s.String()) },
		UserTranscript: func(u types.Utterance) {
			fmt.Printf("🧑 #%d %s (%s)\n", u.TurnIndex, u.Transcript, u.Duration().Round(10*time.Millisecond))
		},
		Correction: func(c types.CorrectionCard) {
			if !c.IsError {
				fmt.Printf("   ✓ #%d %s\n", c.TurnIndex, c.Reason)
				return
			}
			fmt.Printf("   ✗ #%d %q → %q (%s)\n", c.TurnIndex, c.Error, c.Fix, c.Reason)
		},
		AssistantMessage: func(text string) {
			fmt.Printf("🤖 %s\n", text)
		},
		Talking: func(who tutor.Speaker, talking bool) {
			log.Debug("talking", "who", who.String(), "talking", talking)
		},
		Error: func(err error) { log.Warn("tutor error", "err", err) },
	}
}

func printJournal(backend *client.Client, lesson string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := backend.LessonCorrections(ctx, lesson)
	if err != nil {
		slog.Warn("could not fetch the lesson journal", "err", err)
		return
	}
	fmt.Printf("\nLesson %s: %d corrections\n", lesson, len(entries))
	for _, e := range entries {
		mark := "✓"
		if e.Correction.IsError {
			mark = "✗"
		}
		fmt.Printf("  %s %2d  %-40s %s\n", mark, e.TurnIndex, e.Text, e.Correction.Fix)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
