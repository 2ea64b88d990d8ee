// Command probe exercises a running relay end to end: it connects as a
// client, streams a PCM file as one utterance, and reports every event the
// relay sends back.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/audio"
	"voicelive-relay/events"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Relay websocket URL")
	audioFile := flag.String("file", "", "Raw 16-bit 24kHz mono PCM file to send as one utterance")
	timeout := flag.Duration("timeout", 30*time.Second, "How long to wait for the response")
	flag.Parse()

	log.Printf("🔌 Connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("✅ Connected!")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go receive(conn, done)

	if *audioFile != "" {
		if err := sendUtterance(conn, *audioFile); err != nil {
			log.Fatalf("Failed to send audio: %v", err)
		}
		log.Println("✅ Audio sent, waiting for response...")
	}

	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*timeout):
		log.Println("⏰ Timeout waiting for response")
	}
}

// receive prints relay events until the connection closes.
func receive(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	var audioBytes int
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Println("Read error:", err)
			return
		}

		ev, err := events.Parse(raw)
		if err != nil {
			log.Println("Parse error:", err)
			continue
		}

		switch ev.Type {
		case events.TypeSessionCreated:
			log.Printf("🤝 Session ready: %s", ev.SessionID())

		case events.TypeAudio:
			pcm, err := base64.StdEncoding.DecodeString(ev.Field("audio"))
			if err != nil {
				log.Println("Bad audio payload:", err)
				continue
			}
			audioBytes += len(pcm)
			log.Printf("🔊 Audio: %d bytes (%d total)", len(pcm), audioBytes)

		case "response.audio_transcript.delta":
			fmt.Print(ev.Field("delta"))

		case "response.done":
			fmt.Println()
			log.Println("--- Turn complete ---")

		case events.TypeError:
			msg, code, _ := ev.ErrorInfo()
			log.Printf("❌ Error: %s (code=%s)", msg, code)

		default:
			log.Printf("📨 %s", ev.Type)
		}
	}
}

// sendUtterance streams one PCM file at a real-time pace, bracketed by the
// recording markers the relay turns into clear/commit upstream.
func sendUtterance(conn *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	log.Printf("📤 Sending %s (%d bytes)", path, len(data))

	if err := writeEvent(conn, []byte(`{"type":"recording_started"}`)); err != nil {
		return err
	}

	chunkSize := audio.ChunkBytes(24000, 100*time.Millisecond)
	total := (len(data) + chunkSize - 1) / chunkSize
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		ev := events.Audio(base64.StdEncoding.EncodeToString(data[i:end]))
		if err := writeEvent(conn, ev.Raw); err != nil {
			return err
		}
		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, total, end-i)

		// Simulate real-time streaming pace
		time.Sleep(100 * time.Millisecond)
	}

	return writeEvent(conn, []byte(`{"type":"recording_stopped"}`))
}

func writeEvent(conn *websocket.Conn, raw []byte) error {
	return conn.WriteMessage(websocket.TextMessage, raw)
}
