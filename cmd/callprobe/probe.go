package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/barbercall/internal/audio"
	"github.com/ent0n29/barbercall/internal/protocol"
)

var errCallEnded = errors.New("call ended")

type callSettings struct {
	SampleRate int `json:"sample_rate"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// wsEnvelope covers the fields callprobe reads from any server message.
type wsEnvelope struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Status string `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
	Speak  bool   `json:"speak"`
}

type probeEvent struct {
	wsEnvelope
	at time.Time
}

type clip struct {
	pcm        []byte
	sampleRate int
}

func run(ctx context.Context, opts options, progress io.Writer) (Report, error) {
	ctx, cancel := withDeadline(ctx, opts)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	settings, err := fetchSettings(ctx, httpClient, opts.baseURL)
	if err != nil {
		return Report{}, fmt.Errorf("fetch call settings: %w", err)
	}
	c, err := loadClip(opts.wavPath, settings.SampleRate)
	if err != nil {
		return Report{}, err
	}

	sessionID, err := createSession(ctx, httpClient, opts.baseURL)
	if err != nil {
		return Report{}, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, opts.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return Report{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	events := make(chan probeEvent, 256)
	readErr := make(chan error, 1)
	go readLoop(conn, events, readErr, done)

	p := &prober{
		opts:      opts,
		conn:      conn,
		sessionID: sessionID,
		events:    events,
		readErr:   readErr,
		progress:  progress,
	}
	if err := p.control(protocol.ActionStartCall); err != nil {
		return Report{}, fmt.Errorf("start call: %w", err)
	}
	if _, err := p.awaitState(ctx, opts.turnTimeout, "listening"); err != nil {
		return Report{}, fmt.Errorf("start call: %w", err)
	}

	report := Report{SessionID: sessionID}
	for i := 0; i < opts.turns; i++ {
		res := p.turn(ctx, i+1, c)
		report.Turns = append(report.Turns, res)
		if errors.Is(res.err, errCallEnded) || ctx.Err() != nil {
			break
		}
	}
	_ = p.control(protocol.ActionEndCall)
	return report, nil
}

type prober struct {
	opts      options
	conn      *websocket.Conn
	sessionID string
	seq       int
	events    <-chan probeEvent
	readErr   <-chan error
	progress  io.Writer
}

func (p *prober) logf(format string, args ...any) {
	if p.opts.verbose {
		fmt.Fprintf(p.progress, "callprobe: "+format+"\n", args...)
	}
}

func (p *prober) turn(ctx context.Context, n int, c clip) TurnResult {
	res := TurnResult{Index: n}
	p.logf("turn %d: streaming %s of audio", n, audio.PCMDuration(c.pcm, c.sampleRate))

	if err := p.stream(ctx, c.pcm, c.sampleRate); err != nil {
		res.err = fmt.Errorf("send audio: %w", err)
		return res
	}
	clipSentAt := time.Now()
	silence := make([]byte, 2*audio.SamplesFor(p.opts.tailSilence, c.sampleRate))
	if err := p.stream(ctx, silence, c.sampleRate); err != nil {
		res.err = fmt.Errorf("send silence: %w", err)
		return res
	}

	var speechEndAt, transcriptAt time.Time
	timer := time.NewTimer(p.opts.turnTimeout)
	defer timer.Stop()
	for {
		ev, err := p.next(ctx, timer.C)
		if err != nil {
			res.err = err
			return res
		}
		switch protocol.MessageType(ev.Type) {
		case protocol.TypeVADEvent:
			if ev.Event == protocol.VADSpeechEnd && speechEndAt.IsZero() {
				speechEndAt = ev.at
				res.Endpoint = ev.at.Sub(clipSentAt)
			}
		case protocol.TypeTranscript:
			transcriptAt = ev.at
			res.Transcript = ev.Text
		case protocol.TypeSystemEvent:
			switch ev.Code {
			case "empty_transcript", "utterance_too_short":
				res.err = errors.New(ev.Code)
				return res
			}
		case protocol.TypeErrorEvent:
			res.err = fmt.Errorf("%s: %s", ev.Code, ev.Detail)
			return res
		case protocol.TypeCallState:
			if ev.Status == "idle" {
				res.err = errCallEnded
				return res
			}
		case protocol.TypeAssistantReply:
			base := speechEndAt
			if base.IsZero() {
				base = clipSentAt
			}
			if !transcriptAt.IsZero() {
				res.Transcribe = transcriptAt.Sub(base)
			}
			res.Reply = ev.at.Sub(base)
			res.ReplyText = ev.Text
			p.logf("turn %d: reply after %s: %q", n, res.Reply, ev.Text)
			res.err = p.playback(ctx, ev.Speak)
			return res
		}
	}
}

// playback acknowledges a spoken reply the way a client would once its local
// synthesis has finished, so the next turn starts from listening.
func (p *prober) playback(ctx context.Context, speak bool) error {
	if !speak {
		_, err := p.awaitState(ctx, p.opts.turnTimeout, "listening")
		return err
	}
	if p.opts.skipPlayback {
		return nil
	}
	if _, err := p.awaitState(ctx, p.opts.turnTimeout, "speaking"); err != nil {
		return err
	}
	if err := p.control(protocol.ActionSpeechStarted); err != nil {
		return err
	}
	if err := p.control(protocol.ActionSpeechEnded); err != nil {
		return err
	}
	status, err := p.awaitState(ctx, p.opts.turnTimeout, "listening")
	if err == nil && status == "idle" {
		return errCallEnded
	}
	return err
}

// awaitState waits for a call_state with the wanted status. An ended call
// also satisfies the wait and is reported through the returned status.
func (p *prober) awaitState(ctx context.Context, timeout time.Duration, want string) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ev, err := p.next(ctx, timer.C)
		if err != nil {
			return "", err
		}
		switch protocol.MessageType(ev.Type) {
		case protocol.TypeCallState:
			if ev.Status == want || ev.Status == "idle" {
				return ev.Status, nil
			}
		case protocol.TypeErrorEvent:
			return "", fmt.Errorf("%s: %s", ev.Code, ev.Detail)
		}
	}
}

func (p *prober) next(ctx context.Context, timeout <-chan time.Time) (probeEvent, error) {
	select {
	case <-ctx.Done():
		return probeEvent{}, ctx.Err()
	case err := <-p.readErr:
		return probeEvent{}, fmt.Errorf("ws read: %w", err)
	case <-timeout:
		return probeEvent{}, errors.New("timed out waiting for the gateway")
	case ev := <-p.events:
		return ev, nil
	}
}

func (p *prober) control(action string) error {
	return p.conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: p.sessionID,
		Action:    action,
		TSMs:      time.Now().UnixMilli(),
	})
}

// stream sends pcm in chunkMS pieces, sleeping between chunks so the gateway
// sees audio at the configured pace.
func (p *prober) stream(ctx context.Context, pcm []byte, sampleRate int) error {
	for _, chunk := range chunkPCM(pcm, sampleRate, p.opts.chunkMS) {
		p.seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   p.sessionID,
			Seq:         p.seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
			SampleRate:  sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := p.conn.WriteJSON(msg); err != nil {
			return err
		}

		pause := time.Duration(float64(audio.PCMDuration(chunk, sampleRate)) / p.opts.realtime)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return nil
}

func chunkPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	size := sampleRate * 2 * chunkMS / 1000
	if size < 2 {
		size = 2
	}
	size -= size % 2

	var out [][]byte
	for off := 0; off+1 < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm) - (len(pcm)-off)%2
		}
		out = append(out, pcm[off:end])
	}
	return out
}

func readLoop(conn *websocket.Conn, events chan<- probeEvent, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		at := time.Now()

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case events <- probeEvent{wsEnvelope: env, at: at}:
		case <-done:
			return
		}
	}
}

// loadClip reads the WAV at path, or builds a burst of speech-like noise when
// path is empty.
func loadClip(path string, sampleRate int) (clip, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if strings.TrimSpace(path) == "" {
		return syntheticClip(sampleRate, 1200*time.Millisecond), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return clip{}, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return clip{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if rate != sampleRate {
		return clip{}, fmt.Errorf("%s is %d Hz, gateway expects %d Hz", path, rate, sampleRate)
	}
	if len(pcm) == 0 {
		return clip{}, fmt.Errorf("%s holds no audio", path)
	}
	return clip{pcm: pcm, sampleRate: rate}, nil
}

func syntheticClip(sampleRate int, d time.Duration) clip {
	rng := rand.New(rand.NewSource(1))
	samples := make([]int16, audio.SamplesFor(d, sampleRate))
	for i := range samples {
		samples[i] = int16((rng.Float64()*2 - 1) * 0.3 * 32767)
	}
	return clip{pcm: audio.SamplesToBytes(samples), sampleRate: sampleRate}
}

func fetchSettings(ctx context.Context, client *http.Client, baseURL string) (callSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/call/settings", nil)
	if err != nil {
		return callSettings{}, err
	}
	var out callSettings
	if err := doJSON(client, req, http.StatusOK, &out); err != nil {
		return callSettings{}, err
	}
	return out, nil
}

func createSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"caller_id": "callprobe"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/call/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out createSessionResponse
	if err := doJSON(client, req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/call/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, http.StatusOK, nil)
}

func doJSON(client *http.Client, req *http.Request, wantStatus int, out any) error {
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != wantStatus {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
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
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/call/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
