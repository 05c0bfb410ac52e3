package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lexvoice/assistant"
	"lexvoice/audio"
	"lexvoice/beep"
	"lexvoice/capture"
	"lexvoice/config"
	"lexvoice/encoder"
	"lexvoice/player"
	"lexvoice/voice"
)

// printSink writes interaction events to stdout, one line each, so a
// driving script can assert on them.
type printSink struct{}

func (printSink) PhaseChange(from, to voice.Phase) {
	fmt.Printf("PHASE %s -> %s\n", from, to)
}
func (printSink) ListeningTick(float64)         {}
func (printSink) AudioLevel(float64, []float64) {}
func (printSink) TranscriptUpdate(committed, interim string) {
	fmt.Printf("TRANSCRIPT %q %q\n", committed, interim)
}
func (printSink) SilenceWarning(on bool) { fmt.Printf("SILENCE_WARNING %v\n", on) }
func (printSink) AnswerReady(text string) {
	countInteraction()
	fmt.Printf("ANSWER %q\n", text)
}
func (printSink) PlaybackStart()  { fmt.Println("PLAYBACK_START") }
func (printSink) PlaybackEnd()    { fmt.Println("PLAYBACK_END") }
func (printSink) Error(err error) { fmt.Printf("ERROR %v\n", err) }

func runTestMode(wavPath string, cfg *config.Config) {
	beep.Disable()

	fakeCtx, err := audio.NewFakeContextFromWAV(wavPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	session := capture.New(fakeCtx, capture.Config{
		Capture: audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		},
		Format: cfg.Audio.Format,
	})

	// Replies play through a fake backend that finishes on its own, so
	// the harness runs without ffplay or a sound card.
	fakePlayer := player.NewWithBackend(func() player.Backend {
		fb := player.NewFakeBackend()
		go func() {
			time.Sleep(50 * time.Millisecond)
			fb.Finish()
		}()
		return fb
	})

	controller := voice.NewController(voice.Options{
		Capture:   session,
		Player:    fakePlayer,
		Assistant: assistant.NewClient(cfg.Assistant.URL, cfg.Assistant.Token),
		Query: assistant.QueryParams{
			Language:            cfg.Assistant.Language,
			Limit:               cfg.Assistant.Limit,
			SimilarityThreshold: cfg.Assistant.SimilarityThreshold,
			ResponseStyle:       cfg.Assistant.ResponseStyle,
		},
		Events:       printSink{},
		AutoFinalize: cfg.Silence.AutoFinalize,
	})
	defer controller.Close()

	waitIdle := func() {
		for controller.Phase() != voice.PhaseIdle {
			time.Sleep(10 * time.Millisecond)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "START":
			if err := controller.Start(context.Background()); err != nil {
				fmt.Printf("ERROR %v\n", err)
			}
		case "FINALIZE":
			if err := controller.Finalize(context.Background()); err != nil {
				fmt.Printf("ERROR %v\n", err)
			}
		case "STOP":
			if err := controller.Stop(); err != nil {
				fmt.Printf("ERROR %v\n", err)
			}
		case "STOPPLAY":
			controller.StopPlayback()
		case "WAIT_AUDIO_DONE":
			<-fakeCtx.AudioDone()
		case "WAIT_IDLE":
			waitIdle()
		case "QUIT":
			controller.Close()
			return
		default:
			if strings.HasPrefix(cmd, "SLEEP ") {
				if ms, err := strconv.Atoi(cmd[6:]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		}
	}
}
