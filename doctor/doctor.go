// Package doctor runs interactive system diagnostics: config, logging,
// microphone capture, and reply playback prerequisites.
package doctor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"lexvoice/audio"
	"lexvoice/config"
	"lexvoice/encoder"
	"lexvoice/log"
)

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("lexvoice doctor - interactive system diagnostics")
	fmt.Println("================================================")

	allPass := true

	if !checkConfig(cfg) {
		allPass = false
	}
	if !checkLogDir() {
		allPass = false
	}
	if !checkPlayback() {
		allPass = false
	}
	if allPass && !checkMicrophone() {
		allPass = false
	}
	if !checkAssistant(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkConfig(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[1/5] Configuration")

	if err := cfg.Validate(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if cfg.Assistant.URL == "" {
		fmt.Println("  FAIL: assistant.url not set (or LEXVOICE_API_URL)")
		return false
	}
	fmt.Printf("  PASS: %s, format=%s, language=%s\n",
		cfg.Assistant.URL, cfg.Audio.Format, cfg.Assistant.Language)
	return true
}

func checkLogDir() bool {
	fmt.Println()
	fmt.Println("[2/5] Log directory")

	if err := log.EnsureDir(); err != nil {
		fmt.Printf("  FAIL: cannot create %s: %v\n", log.Dir(), err)
		return false
	}
	probe := log.Dir() + string(os.PathSeparator) + ".doctor-probe"
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		fmt.Printf("  FAIL: %s not writable: %v\n", log.Dir(), err)
		return false
	}
	os.Remove(probe)
	fmt.Printf("  PASS: %s writable\n", log.Dir())
	return true
}

func checkPlayback() bool {
	fmt.Println()
	fmt.Println("[3/5] Reply playback (ffplay)")

	path, err := exec.LookPath("ffplay")
	if err != nil {
		fmt.Println("  FAIL: ffplay not found in PATH (install ffmpeg)")
		return false
	}
	fmt.Printf("  PASS: %s\n", path)
	return true
}

func checkMicrophone() bool {
	fmt.Println()
	fmt.Println("[4/5] Microphone")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		devChoice, _ := reader.ReadString('\n')
		devChoice = strings.TrimSpace(devChoice)
		idx := 0
		if devChoice != "" {
			fmt.Sscanf(devChoice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Printf("  FAIL: invalid choice\n")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	stop := make(chan struct{})
	go func() {
		time.Sleep(3 * time.Second)
		close(stop)
	}()

	pcm, err := recordAudio(ctx, device, stop)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	peak := peakLevel(pcm)
	fmt.Printf("  Captured %.1f KB, peak level %.2f\n", float64(len(pcm))/1024, peak)
	if peak < 0.01 {
		fmt.Println("  FAIL: microphone appears silent")
		return false
	}
	fmt.Println("  PASS: microphone captured audio")
	return true
}

func peakLevel(pcm []byte) float64 {
	peak := 0.0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0)
		if s > peak {
			peak = s
		}
	}
	return peak
}

func recordAudio(ctx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex
	var stopped bool
	done := make(chan struct{})

	cfg := audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	}

	captureDevice, err := ctx.NewCapture(device, cfg)
	if err != nil {
		return nil, err
	}

	captureDevice.SetCallback(func(data []byte, frameCount uint32) {
		bufMu.Lock()
		if stopped {
			bufMu.Unlock()
			return
		}
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})

	if err := captureDevice.Start(); err != nil {
		captureDevice.Close()
		return nil, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	<-stop
	close(done)

	captureDevice.Stop()
	fmt.Println(" done")
	captureDevice.Close()

	bufMu.Lock()
	stopped = true
	raw := pcmBuf
	bufMu.Unlock()

	return raw, nil
}

func checkAssistant(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[5/5] Assistant endpoint")

	if cfg.Assistant.URL == "" {
		fmt.Println("  SKIP: assistant.url not set")
		return true
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodHead, cfg.Assistant.URL, nil)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("  FAIL: cannot reach %s: %v\n", cfg.Assistant.URL, err)
		return false
	}
	resp.Body.Close()
	fmt.Printf("  PASS: reachable (HTTP %d)\n", resp.StatusCode)
	return true
}
