// Command voicelive-cli talks to the Voice Live API directly from a
// terminal: microphone in, synthesized speech out. Useful for exercising
// the upstream protocol without running the relay server.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voicelive-relay/events"
	"voicelive-relay/relay"
	"voicelive-relay/voicelive"
)

var (
	endpoint     string
	apiKey       string
	token        string
	model        string
	apiVersion   string
	voiceName    string
	instructions string
	verbose      bool
)

var logger zerolog.Logger

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "voicelive-cli",
		Short: "Voice Live API terminal client",
		Long:  "Stream microphone audio to the Voice Live API and play back the spoken responses.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", os.Getenv("AZURE_VOICE_LIVE_ENDPOINT"), "Azure Voice Live endpoint")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AZURE_VOICE_LIVE_API_KEY"), "API key credential")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("AZURE_VOICE_LIVE_TOKEN"), "Bearer token credential (preferred over the API key)")
	rootCmd.PersistentFlags().StringVar(&model, "model", envOr("VOICE_LIVE_MODEL", "gpt-4o"), "Model to converse with")
	rootCmd.PersistentFlags().StringVar(&apiVersion, "api-version", envOr("AZURE_VOICE_LIVE_API_VERSION", "2025-05-01-preview"), "API version")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a spoken conversation",
		Long:  "Open a session, stream the default microphone continuously, and play back responses. Type q<Enter> to quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&voiceName, "voice", "en-US-Ava:DragonHDLatestNeural", "Voice to synthesize with")
	cmd.Flags().StringVar(&instructions, "instructions",
		"You are a helpful AI assistant responding in natural, engaging language.",
		"System instructions for the session")
	return cmd
}

func runChat(ctx context.Context) error {
	if endpoint == "" {
		return errors.New("no endpoint: set --endpoint or AZURE_VOICE_LIVE_ENDPOINT")
	}
	if apiKey == "" && token == "" {
		return errors.New("no credential: set --api-key/--token or the matching environment variables")
	}

	client := &voicelive.Client{
		Endpoint:   endpoint,
		APIVersion: apiVersion,
		APIKey:     apiKey,
		Token:      token,
	}

	logger.Info().Str("model", model).Msg("Connecting to Voice Live API")
	conn, err := client.Connect(ctx, model)
	if err != nil {
		return err
	}
	defer conn.Close()

	cfg := events.DefaultSessionConfig(instructions, voiceName)
	sess, _, err := relay.Negotiate(conn, cfg, 10*time.Second)
	if err != nil {
		return fmt.Errorf("session negotiation: %w", err)
	}
	logger.Info().Str("session_id", sess.ID).Msg("Session ready")

	player, err := newPlayer(sampleRate)
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}
	defer player.Close()

	capture, err := newCapture(sampleRate, func(pcm []byte) {
		ev := events.InputAppend(base64.StdEncoding.EncodeToString(pcm))
		if err := conn.WriteEvent(ev); err != nil {
			logger.Debug().Err(err).Msg("Audio send failed")
		}
	})
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer capture.Close()

	fmt.Println("🎤 Speak when ready. Type q and press Enter to quit.")

	// First of the three below to finish ends the session; closing the
	// connection unblocks the receive loop.
	done := make(chan error, 1)
	go func() { done <- receiveLoop(conn, player) }()
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if scanner.Text() == "q" {
				done <- nil
				return
			}
		}
		done <- scanner.Err()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	conn.Close()
	if err != nil && !errors.Is(err, voicelive.ErrConnClosed) {
		return err
	}
	logger.Info().Msg("Session ended")
	return nil
}

// receiveLoop consumes upstream events, feeding audio to the player and
// printing transcript deltas as they stream in.
func receiveLoop(conn *voicelive.Conn, player *player) error {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			if errors.Is(err, events.ErrMalformed) {
				logger.Debug().Err(err).Msg("Skipping malformed event")
				continue
			}
			return err
		}

		switch ev.Type {
		case events.TypeAudioDelta:
			pcm, err := base64.StdEncoding.DecodeString(ev.Field("delta"))
			if err != nil {
				logger.Debug().Err(err).Msg("Bad audio delta")
				continue
			}
			player.Enqueue(pcm)

		case "input_audio_buffer.speech_started":
			// Barge-in: the user started talking over the assistant.
			logger.Debug().Msg("Speech detected, stopping playback")
			player.Flush()

		case "response.audio_transcript.delta":
			fmt.Print(ev.Field("delta"))

		case "response.done":
			fmt.Println()

		case events.TypeError:
			msg, code, _ := ev.ErrorInfo()
			logger.Error().Str("code", code).Msg(msg)

		default:
			logger.Debug().Str("type", ev.Type).Msg("Event")
		}
	}
}
