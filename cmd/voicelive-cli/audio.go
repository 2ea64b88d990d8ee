package main

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"
)

const (
	sampleRate      = 24000
	framesPerBuffer = 480 // 20ms at 24kHz
)

var paUsers struct {
	sync.Mutex
	n int
}

// paAcquire initializes PortAudio once for however many streams need it.
func paAcquire() error {
	paUsers.Lock()
	defer paUsers.Unlock()
	if paUsers.n == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paUsers.n++
	return nil
}

func paRelease() {
	paUsers.Lock()
	defer paUsers.Unlock()
	paUsers.n--
	if paUsers.n == 0 {
		_ = portaudio.Terminate()
	}
}

// capture reads the default microphone and hands 16-bit little-endian mono
// PCM buffers to the sink callback from the audio thread.
type capture struct {
	stream *portaudio.Stream
}

func newCapture(rate int, sink func(pcm []byte)) (*capture, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), framesPerBuffer, func(in []int16) {
		pcm := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
		}
		sink(pcm)
	})
	if err != nil {
		paRelease()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return nil, err
	}
	return &capture{stream: stream}, nil
}

func (c *capture) Close() {
	_ = c.stream.Stop()
	_ = c.stream.Close()
	paRelease()
}

// player queues decoded PCM and feeds the default output device. Flush drops
// everything queued, which is how barge-in cuts the assistant off.
type player struct {
	stream *portaudio.Stream

	mu  sync.Mutex
	buf []byte
}

func newPlayer(rate int) (*player, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}

	p := &player{}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), framesPerBuffer, func(out []int16) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := range out {
			if len(p.buf) >= 2 {
				out[i] = int16(binary.LittleEndian.Uint16(p.buf))
				p.buf = p.buf[2:]
			} else {
				out[i] = 0
			}
		}
	})
	if err != nil {
		paRelease()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return nil, err
	}
	p.stream = stream
	return p, nil
}

func (p *player) Enqueue(pcm []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	p.mu.Unlock()
}

func (p *player) Flush() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

func (p *player) Close() {
	_ = p.stream.Stop()
	_ = p.stream.Close()
	paRelease()
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Long:  "List every input and output device PortAudio can see, marking the defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paAcquire(); err != nil {
				return err
			}
			defer paRelease()

			defaultInput, _ := portaudio.DefaultInputDevice()
			defaultOutput, _ := portaudio.DefaultOutputDevice()

			devices, err := portaudio.Devices()
			if err != nil {
				return err
			}

			for i, dev := range devices {
				kind := ""
				if dev.MaxInputChannels > 0 {
					kind += "in"
				}
				if dev.MaxOutputChannels > 0 {
					if kind != "" {
						kind += "/"
					}
					kind += "out"
				}
				mark := " "
				if dev == defaultInput || dev == defaultOutput {
					mark = "*"
				}
				fmt.Printf("%s [%2d] %-40s %-6s %.0f Hz\n", mark, i, dev.Name, kind, dev.DefaultSampleRate)
			}
			return nil
		},
	}
}
