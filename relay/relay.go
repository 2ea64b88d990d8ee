// Package relay implements the duplexed forwarding core: the session
// negotiator and the two concurrent pumps bridging a client websocket and
// an upstream Voice Live connection.
package relay

import (
	"encoding/base64"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/audio"
	"voicelive-relay/config"
	"voicelive-relay/events"
	"voicelive-relay/metrics"
	"voicelive-relay/session"
	"voicelive-relay/voicelive"
)

// Relay runs two directional pumps over one client leg and one upstream leg.
// Each connection is read by exactly one pump and written by the other; the
// first pump to stop forces both connections closed, which unblocks the
// other pump's pending read.
type Relay struct {
	Client   *session.ClientSession
	Upstream *voicelive.Conn
	Framer   *audio.Framer

	SampleRate  int
	IdleTimeout time.Duration
	SilencePad  time.Duration

	Metrics *metrics.Metrics // optional
}

// New builds a relay for already-open, already-negotiated connections.
func New(client *session.ClientSession, upstream *voicelive.Conn, cfg *config.Config, m *metrics.Metrics) *Relay {
	return &Relay{
		Client:      client,
		Upstream:    upstream,
		Framer:      audio.NewFramer(audio.ChunkBytes(cfg.SampleRate, cfg.ChunkDuration), cfg.MaxBufferSize),
		SampleRate:  cfg.SampleRate,
		IdleTimeout: cfg.ClientIdleTimeout,
		SilencePad:  cfg.SilencePad,
		Metrics:     m,
	}
}

// Run starts both pumps and blocks until the relay is fully torn down.
// Graceful terminations (client disconnect, normal upstream close) return
// nil; anything else returns the first pump's error.
func (r *Relay) Run() error {
	done := make(chan pumpResult, 2)

	go func() {
		done <- pumpResult{dir: metrics.DirClientToUpstream, err: r.pumpClientToUpstream()}
	}()
	go func() {
		done <- pumpResult{dir: metrics.DirUpstreamToClient, err: r.pumpUpstreamToClient()}
	}()

	first := <-done

	// Cancellation is closing the sockets: both closes are idempotent and
	// unblock the other pump's pending read.
	r.Upstream.Close()
	r.Client.Close()
	<-done

	if isGraceful(first.err) {
		log.Printf("🔌 [%s] relay finished (%s)", shortID(r.Client.ID), first.dir)
		return nil
	}
	if r.Metrics != nil {
		r.Metrics.PumpFatalErrors.WithLabelValues(first.dir).Inc()
	}
	return first.err
}

type pumpResult struct {
	dir string
	err error
}

// isGraceful reports whether a pump exit is an expected end of session
// rather than a fault.
func isGraceful(err error) bool {
	if err == nil || errors.Is(err, voicelive.ErrConnClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}

// pumpClientToUpstream forwards client events upstream, framing audio into
// fixed-size chunks. Unknown event types pass through unmodified.
func (r *Relay) pumpClientToUpstream() error {
	id := shortID(r.Client.ID)

	stopPinger := r.startPinger()
	defer stopPinger()

	for {
		raw, err := r.Client.ReadRaw()
		if err != nil {
			return err
		}
		r.extendReadDeadline()

		ev, err := events.Parse(raw)
		if err != nil {
			// One bad frame must not end the session.
			log.Printf("⚠️ [%s] skipping malformed client frame: %v", id, err)
			r.dropped(metrics.DirClientToUpstream)
			continue
		}

		switch ev.Type {
		case events.TypeAudio:
			if err := r.relayAudio(id, ev); err != nil {
				return err
			}

		case events.TypeRecordingStarted:
			// Interrupt any in-flight response and reset the upstream buffer.
			r.Framer.Clear()
			if err := r.Upstream.WriteEvent(events.ResponseCancel()); err != nil {
				return err
			}
			if err := r.Upstream.WriteEvent(events.InputClear()); err != nil {
				return err
			}

		case events.TypeRecordingStopped:
			if err := r.commitUtterance(); err != nil {
				return err
			}
			log.Printf("➡️ [%s] recording stopped, committed input buffer", id)

		default:
			if err := r.Upstream.WriteRaw(ev.Raw); err != nil {
				return err
			}
		}
		r.relayed(metrics.DirClientToUpstream)
	}
}

// relayAudio decodes one client audio event into the framer and flushes any
// complete chunks upstream.
func (r *Relay) relayAudio(id string, ev events.Event) error {
	data, err := base64.StdEncoding.DecodeString(ev.Field("audio"))
	if err != nil {
		log.Printf("⚠️ [%s] invalid base64 audio payload: %v", id, err)
		r.dropped(metrics.DirClientToUpstream)
		return nil
	}

	if err := r.Framer.Append(data); err != nil {
		// Backlog exceeded: drop the fragment rather than kill the session.
		log.Printf("⚠️ [%s] audio backlog full, dropping %d bytes", id, len(data))
		r.dropped(metrics.DirClientToUpstream)
		return nil
	}

	for _, chunk := range r.Framer.Drain() {
		if err := r.sendChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// commitUtterance flushes the partial tail chunk, optionally pads with
// silence so the upstream turn detector ends the turn promptly, then commits.
func (r *Relay) commitUtterance() error {
	if rem := r.Framer.FlushRemainder(); len(rem) > 0 {
		if err := r.sendChunk(rem); err != nil {
			return err
		}
	}
	if r.SilencePad > 0 {
		for _, chunk := range r.Framer.Silence(r.SampleRate, r.SilencePad) {
			if err := r.sendChunk(chunk); err != nil {
				return err
			}
		}
	}
	return r.Upstream.WriteEvent(events.InputCommit())
}

func (r *Relay) sendChunk(chunk []byte) error {
	if err := r.Upstream.WriteEvent(events.InputAppend(base64.StdEncoding.EncodeToString(chunk))); err != nil {
		return err
	}
	if r.Metrics != nil {
		r.Metrics.AudioBytes.WithLabelValues(metrics.DirClientToUpstream).Add(float64(len(chunk)))
	}
	return nil
}

// pumpUpstreamToClient forwards upstream events to the client. Audio deltas
// are re-wrapped for client convenience and error events are projected into
// a uniform envelope; everything else passes through byte-for-byte so no
// control or telemetry event is lost.
func (r *Relay) pumpUpstreamToClient() error {
	id := shortID(r.Client.ID)

	for {
		ev, err := r.Upstream.ReadEvent()
		if err != nil {
			if errors.Is(err, events.ErrMalformed) {
				log.Printf("⚠️ [%s] skipping malformed upstream event: %v", id, err)
				r.dropped(metrics.DirUpstreamToClient)
				continue
			}
			return err
		}

		switch ev.Type {
		case events.TypeAudioDelta:
			delta := ev.Field("delta")
			if err := r.Client.WriteEvent(events.Audio(delta)); err != nil {
				return err
			}
			if r.Metrics != nil {
				r.Metrics.AudioBytes.WithLabelValues(metrics.DirUpstreamToClient).
					Add(float64(base64.StdEncoding.DecodedLen(len(delta))))
			}

		case events.TypeError:
			msg, code, errType := ev.ErrorInfo()
			log.Printf("❌ [%s] upstream error: %s (code=%s)", id, msg, code)
			if err := r.Client.WriteEvent(events.ErrorEnvelope(msg, code, errType)); err != nil {
				return err
			}

		default:
			if err := r.Client.WriteRaw(ev.Raw); err != nil {
				return err
			}
		}
		r.relayed(metrics.DirUpstreamToClient)
	}
}

// startPinger arms the client liveness probe: the read deadline is extended
// on every frame and every pong, and a ping goes out each idle interval. A
// silent client only fails once it stops answering pings.
func (r *Relay) startPinger() func() {
	if r.IdleTimeout <= 0 {
		return func() {}
	}

	r.Client.SetReadDeadline(time.Now().Add(r.pongWait()))
	r.Client.SetPongHandler(func(string) error {
		return r.Client.SetReadDeadline(time.Now().Add(r.pongWait()))
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.IdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.Client.Ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(stop) }
}

func (r *Relay) extendReadDeadline() {
	if r.IdleTimeout > 0 {
		r.Client.SetReadDeadline(time.Now().Add(r.pongWait()))
	}
}

func (r *Relay) pongWait() time.Duration {
	return r.IdleTimeout + writeGrace
}

const writeGrace = 10 * time.Second

func (r *Relay) relayed(dir string) {
	if r.Metrics != nil {
		r.Metrics.EventsRelayed.WithLabelValues(dir).Inc()
	}
}

func (r *Relay) dropped(dir string) {
	if r.Metrics != nil {
		r.Metrics.EventsDropped.WithLabelValues(dir).Inc()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
