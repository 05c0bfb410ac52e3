package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"lexvoice/assistant"
	"lexvoice/audio"
	"lexvoice/beep"
	"lexvoice/capture"
	"lexvoice/config"
	"lexvoice/doctor"
	"lexvoice/encoder"
	"lexvoice/level"
	"lexvoice/log"
	"lexvoice/player"
	"lexvoice/shutdown"
	"lexvoice/transcript"
	"lexvoice/update"
	"lexvoice/voice"
)

var version = "dev"

func main() {
	run()
}

// controller commands issued by the TUI key handler. The TUI never
// touches the controller directly; key presses land here and the run
// loop dispatches them.
type command int

const (
	cmdToggle command = iota // start or finalize, depending on phase
	cmdStop                  // end capture and exit voice mode
	cmdStopPlayback
	cmdDeviceSelect
)

var commandChan = make(chan command, 4)

var shutdownOnce sync.Once

func gracefulShutdown(controller *voice.Controller) {
	shutdownOnce.Do(func() {
		if controller != nil {
			controller.Close()
		}
		log.SessionEnd(interactionCount())
		log.Close()
		if tuiProgram != nil {
			tuiProgram.Quit()
		}
		os.Exit(0)
	})
}

var interactionMu sync.Mutex
var interactions int

func countInteraction() {
	interactionMu.Lock()
	interactions++
	interactionMu.Unlock()
}

func interactionCount() int {
	interactionMu.Lock()
	defer interactionMu.Unlock()
	return interactions
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix + " (ctrl+g)"
}

func modeLineText(cfg *config.Config) string {
	transcriptLabel := "no live transcript"
	if cfg.Transcript.Enabled {
		transcriptLabel = "live transcript"
	}
	return fmt.Sprintf("[%s | %s | %s/%s]", cfg.Audio.Format, transcriptLabel,
		cfg.Assistant.Language, cfg.Assistant.ResponseStyle)
}

// uiSink feeds controller events into the TUI and plays the audible
// cues. It never calls back into the controller.
type uiSink struct {
	cues bool
}

func (s uiSink) PhaseChange(from, to voice.Phase) {
	tuiSend(PhaseMsg{From: from, To: to})
	if !s.cues {
		return
	}
	switch to {
	case voice.PhaseListening:
		// Only a fresh question earns the start cue; the silent return
		// to listening after a text-only answer stays silent.
		if from == voice.PhaseIdle {
			go beep.PlayStart()
		}
	case voice.PhaseFinalizing:
		go beep.PlayEnd()
	}
}

func (s uiSink) ListeningTick(duration float64) {
	tuiSend(ListeningTickMsg{Duration: duration})
}

func (s uiSink) AudioLevel(lvl float64, waveform []float64) {
	tuiSend(AudioLevelMsg{Level: lvl, Waveform: waveform})
}

func (s uiSink) TranscriptUpdate(committed, interim string) {
	tuiSend(TranscriptMsg{Committed: committed, Interim: interim})
}

func (s uiSink) SilenceWarning(on bool) {
	tuiSend(SilenceWarningMsg{On: on})
	if on && s.cues {
		beep.PlayError()
	}
}

func (s uiSink) AnswerReady(text string) {
	countInteraction()
	tuiSend(AnswerMsg{Text: text})
}

func (s uiSink) PlaybackStart() { tuiSend(PlaybackMsg{Playing: true}) }
func (s uiSink) PlaybackEnd()   { tuiSend(PlaybackMsg{Playing: false}) }

func (s uiSink) Error(err error) {
	tuiSend(ErrorMsg{Err: err})
	if s.cues {
		beep.PlayError()
	}
}

func run() {
	if len(os.Args) > 1 && os.Args[1] == "update" {
		if version == "dev" {
			fmt.Println("Dev build — cannot check for updates.")
			os.Exit(0)
		}
		fmt.Printf("lexvoice %s — checking for updates...\n", version)
		rel, err := update.CheckLatest(version)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if rel == nil {
			fmt.Println("Already up to date.")
			os.Exit(0)
		}
		fmt.Printf("Update available: %s -> %s\n", version, rel.Version)
		fmt.Print("Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			os.Exit(0)
		}
		fmt.Printf("Downloading %s...\n", rel.Version)
		if err := update.Apply(rel); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated to %s\n", rel.Version)
		os.Exit(0)
	}

	configFlag := flag.String("config", "", "Config file path (default: ~/.lexvoicerc)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	langFlag := flag.String("lang", "", "Override assistant answer language (e.g. tr, en)")
	styleFlag := flag.String("style", "", "Override response style: concise, detailed, or formal")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("lexvoice %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadWithFallback(*configFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if *langFlag != "" {
		cfg.Assistant.Language = *langFlag
	}
	if *styleFlag != "" {
		cfg.Assistant.ResponseStyle = *styleFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Assistant.URL == "" {
		cfg.Assistant.URL = os.Getenv("LEXVOICE_API_URL")
	}
	if cfg.Assistant.Token == "" {
		cfg.Assistant.Token = os.Getenv("LEXVOICE_API_TOKEN")
	}
	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}

	if cfg.Assistant.URL == "" {
		fmt.Println("Error: assistant URL not configured (set assistant.url or LEXVOICE_API_URL)")
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.SessionStart(cfg.Assistant.URL, cfg.Audio.Format, cfg.Assistant.Language)
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: lexvoice -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], cfg)
		return
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	deviceName := *deviceFlag
	if deviceName == "" {
		deviceName = cfg.Audio.Device
	}
	var selectedDevice *audio.DeviceInfo
	if deviceName != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == deviceName {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			log.Warnf("device not found: %s", deviceName)
			fmt.Printf("Warning: device %q not found, using system default\n", deviceName)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	session := capture.New(ctx, capture.Config{
		Device: selectedDevice,
		Capture: audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		},
		Format: cfg.Audio.Format,
	})

	analyzer := level.New()
	analyzer.Sensitivity = cfg.Audio.Sensitivity
	analyzer.NoiseGate = cfg.Audio.NoiseGate

	client := assistant.NewClient(cfg.Assistant.URL, cfg.Assistant.Token)

	var newChannel func(context.Context) transcript.Channel
	if cfg.Transcript.Enabled {
		tc := cfg.Transcript
		newChannel = func(ctx context.Context) transcript.Channel {
			return transcript.NewLive(ctx, transcript.LiveConfig{
				Endpoint: tc.Endpoint,
				APIKey:   tc.APIKey,
				Language: cfg.Assistant.Language,
				Model:    tc.Model,
			})
		}
	}

	controller := voice.NewController(voice.Options{
		Capture:   session,
		Player:    player.New(),
		Assistant: client,
		Query: assistant.QueryParams{
			Language:            cfg.Assistant.Language,
			Limit:               cfg.Assistant.Limit,
			SimilarityThreshold: cfg.Assistant.SimilarityThreshold,
			ResponseStyle:       cfg.Assistant.ResponseStyle,
		},
		NewChannel:   newChannel,
		Analyzer:     analyzer,
		Events:       uiSink{cues: true},
		AutoFinalize: cfg.Silence.AutoFinalize,
	})

	tuiMu.Lock()
	tuiProgram = NewTUIProgram()
	tuiMu.Unlock()

	go func() {
		if _, err := tuiProgram.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
			os.Exit(1)
		}
		gracefulShutdown(controller)
	}()

	<-tuiReady

	// preferredDevice remembers the user's choice so we can auto-reconnect
	preferredDevice := ""
	if selectedDevice != nil {
		preferredDevice = selectedDevice.Name
	}

	// Poll for device changes (hotplug)
	go func() {
		var last []string
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			devices, err := ctx.Devices()
			if err != nil {
				continue
			}
			names := make([]string, len(devices))
			for i := range devices {
				names[i] = devices[i].Name
			}
			if slices.Equal(last, names) {
				continue
			}
			last = names
			selName := ""
			if selectedDevice != nil {
				selName = selectedDevice.Name
			}
			if selName != "" && !slices.Contains(names, selName) {
				// Selected device disappeared — fall back to default
				log.Info("device_disconnected: " + selName)
				selectedDevice = nil
				session.SetDevice(nil)
				tuiSend(DeviceLineMsg{Text: deviceLineText(nil)})
			} else if selName == "" && preferredDevice != "" && slices.Contains(names, preferredDevice) {
				// Preferred device reappeared — auto-reconnect
				log.Info("device_reconnected: " + preferredDevice)
				for i := range devices {
					if devices[i].Name == preferredDevice {
						selectedDevice = &devices[i]
						session.SetDevice(selectedDevice)
						tuiSend(DeviceLineMsg{Text: deviceLineText(selectedDevice)})
						break
					}
				}
			}
		}
	}()

	update.StartBackgroundCheck(version, log.Dir(), func(rel update.Release) {
		log.Info("update_available: " + rel.Version)
		tuiSend(UpdateAvailableMsg{Version: rel.Version})
	})

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(controller)
	}()

	go beep.Init()

	client.Warm()

	tuiSend(ModeLineMsg{Text: modeLineText(cfg)})
	tuiSend(DeviceLineMsg{Text: deviceLineText(selectedDevice)})

	for cmd := range commandChan {
		switch cmd {
		case cmdToggle:
			switch controller.Phase() {
			case voice.PhaseListening:
				err := controller.Finalize(context.Background())
				if errors.Is(err, capture.ErrNoActiveRecording) {
					// Listening without an open capture (text-only
					// answer): the toggle asks the next question.
					err = controller.Start(context.Background())
				}
				if err != nil {
					log.Errorf("finalize error: %v", err)
				}
			case voice.PhasePlaying:
				// A new question waits until the reply is cut off.
				controller.StopPlayback()
			default:
				if err := controller.Start(context.Background()); err != nil {
					log.Errorf("start error: %v", err)
					tuiSend(ErrorMsg{Err: err})
				}
			}
		case cmdStop:
			if err := controller.Stop(); err != nil {
				log.Errorf("stop error: %v", err)
			}
		case cmdStopPlayback:
			controller.StopPlayback()
		case cmdDeviceSelect:
			if controller.Phase() != voice.PhaseIdle {
				continue
			}
			if tuiProgram != nil {
				tuiProgram.ReleaseTerminal()
			}
			newDevice, err := audio.SelectDevice(ctx)
			if tuiProgram != nil {
				tuiProgram.RestoreTerminal()
			}
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				continue
			}
			if newDevice != nil {
				log.Info("device_switch: " + newDevice.Name)
				selectedDevice = newDevice
				preferredDevice = newDevice.Name
				session.SetDevice(newDevice)
				tuiSend(DeviceLineMsg{Text: deviceLineText(newDevice)})
			}
		}
	}
}
