package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"lexvoice/encoder"
	"lexvoice/log"
)

const (
	chunkMs      = 200
	chunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * chunkMs / 1000
	finalizeIdle = 200 * time.Millisecond
	finalizeMax  = 1000 * time.Millisecond
)

// rawStream is the wire-level transcription connection.
type rawStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (serverEvent, error)
	Close() error
}

type serverEvent struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

// LiveConfig configures the websocket transcription backend.
type LiveConfig struct {
	Endpoint string // ws:// or wss:// listen URL
	APIKey   string
	Language string
	Model    string
}

// Live streams PCM over a websocket and folds server events into the
// committed/interim transcript. Interim events repaint; final events
// commit. Once Stop begins, interim events are dropped so the frozen
// transcript cannot regress.
type Live struct {
	ws        rawStream
	audioCh   chan []byte
	updates   chan Update
	connected chan struct{}

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once
	stopOnce      sync.Once

	feedMu  sync.Mutex
	feedBuf []byte

	mu        sync.Mutex
	committed string
	interim   string
	stopping  bool
	err       error
	errOnce   sync.Once
	snap      Snapshot
}

// NewLive dials cfg.Endpoint in the background; Feed before the
// connection is up buffers into the audio channel.
func NewLive(ctx context.Context, cfg LiveConfig) *Live {
	return newLive(func() (rawStream, error) {
		return dialStream(ctx, cfg)
	})
}

func newLive(dial func() (rawStream, error)) *Live {
	l := &Live{
		audioCh:   make(chan []byte, 128),
		updates:   make(chan Update, 16),
		connected: make(chan struct{}),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
	}

	go func() {
		ws, err := dial()
		if err != nil {
			l.setErr(fmt.Errorf("%w: %v", ErrUnavailable, err))
			close(l.sendDone)
			close(l.recvDone)
			close(l.connected)
			return
		}
		l.ws = ws
		close(l.connected)
		go l.runSender()
		go l.runReceiver()
	}()

	return l
}

func (l *Live) Feed(pcm []byte) {
	l.mu.Lock()
	if l.err != nil || l.stopping {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.feedMu.Lock()
	l.feedBuf = append(l.feedBuf, pcm...)
	var chunks [][]byte
	for len(l.feedBuf) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, l.feedBuf[:chunkBytes])
		l.feedBuf = l.feedBuf[chunkBytes:]
		chunks = append(chunks, chunk)
	}
	l.feedMu.Unlock()

	for _, chunk := range chunks {
		l.audioCh <- chunk
	}
}

func (l *Live) Updates() <-chan Update { return l.updates }

func (l *Live) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stop flushes buffered audio, waits briefly for the server's finalize
// acknowledgment, then freezes and returns the transcript. Idempotent;
// later calls return the same snapshot.
func (l *Live) Stop() Snapshot {
	l.stopOnce.Do(l.doStop)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

func (l *Live) doStop() {
	<-l.connected

	l.mu.Lock()
	l.stopping = true
	connErr := l.err
	l.mu.Unlock()

	if connErr != nil {
		go func() { // unblock any Feed stuck on audioCh
			for range l.audioCh {
			}
		}()
		l.feedMu.Lock()
		l.feedBuf = nil
		l.feedMu.Unlock()
		close(l.audioCh)
		<-l.sendDone
		<-l.recvDone
		close(l.updates)
		l.mu.Lock()
		l.snap = Snapshot{Committed: l.committed, Interim: l.interim}
		l.mu.Unlock()
		return
	}

	l.feedMu.Lock()
	if len(l.feedBuf) > 0 {
		tail := make([]byte, len(l.feedBuf))
		copy(tail, l.feedBuf)
		l.feedBuf = nil
		l.feedMu.Unlock()
		l.audioCh <- tail
	} else {
		l.feedMu.Unlock()
	}
	close(l.audioCh)
	<-l.sendDone

	select {
	case <-l.finalized:
		time.Sleep(finalizeIdle)
	case <-time.After(finalizeMax):
	}

	l.ws.Close()
	select {
	case <-l.recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("transcript receiver drain timeout")
	}
	close(l.updates)

	l.mu.Lock()
	l.snap = Snapshot{Committed: strings.TrimSpace(l.committed), Interim: l.interim}
	l.mu.Unlock()
}

func (l *Live) runSender() {
	defer close(l.sendDone)
	for chunk := range l.audioCh {
		if err := l.ws.Send(chunk); err != nil {
			l.setErr(fmt.Errorf("%w: %v", ErrUnavailable, err))
			return
		}
	}
	if err := l.ws.CloseSend(); err != nil {
		l.setErr(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
}

func (l *Live) runReceiver() {
	defer close(l.recvDone)
	for {
		ev, err := l.ws.Recv()
		if err != nil {
			l.mu.Lock()
			stopping := l.stopping
			l.mu.Unlock()
			if stopping {
				return
			}
			l.setErr(fmt.Errorf("%w: %v", ErrUnavailable, err))
			return
		}

		if ev.FromFinalize {
			l.finalizedOnce.Do(func() { close(l.finalized) })
		}

		isFinal := ev.IsFinal || ev.SpeechFinal || ev.FromFinalize
		text := strings.TrimSpace(ev.Transcript)

		l.mu.Lock()
		if l.stopping && !isFinal {
			// Frozen: stragglers must not repaint the transcript.
			l.mu.Unlock()
			continue
		}
		if isFinal {
			if text != "" {
				if l.committed != "" {
					l.committed += " " + text
				} else {
					l.committed = text
				}
				l.interim = ""
			}
		} else {
			l.interim = text
		}
		update := Update{Committed: l.committed, Interim: l.interim}
		stopping := l.stopping
		l.mu.Unlock()

		if stopping {
			continue // committed, but the consumer channel is winding down
		}
		select {
		case l.updates <- update:
		default:
		}
	}
}

func (l *Live) setErr(err error) {
	if err == nil {
		return
	}
	l.errOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		if l.ws != nil {
			l.ws.Close()
		}
	})
}

type wsStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

type wireEvent struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func dialStream(ctx context.Context, cfg LiveConfig) (rawStream, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	q := endpoint.Query()
	model := cfg.Model
	if model == "" {
		model = "nova-3"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", encoder.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", encoder.Channels))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+cfg.APIKey)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}
	return &wsStream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *wsStream) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *wsStream) CloseSend() error {
	return s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`))
}

func (s *wsStream) Recv() (serverEvent, error) {
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		return serverEvent{}, err
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return serverEvent{}, err
	}
	transcript := ""
	if len(ev.Channel.Alternatives) > 0 {
		transcript = ev.Channel.Alternatives[0].Transcript
	}
	return serverEvent{
		Transcript:   strings.TrimSpace(transcript),
		IsFinal:      ev.IsFinal,
		SpeechFinal:  ev.SpeechFinal,
		FromFinalize: ev.FromFinalize,
	}, nil
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
