package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ent0n29/barbercall/internal/app"
	"github.com/ent0n29/barbercall/internal/audio"
	"github.com/ent0n29/barbercall/internal/call"
	"github.com/ent0n29/barbercall/internal/observability"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE.wav",
	Short: "Transcribe a recording and print the assistant's reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		wav, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		pcm, rate, err := audio.DecodeWAVPCM16(wav)
		if err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}

		assistant, store, _, err := app.BuildAssistant(cmd.Context(), cfg, observability.NewMetrics(cfg.MetricsNamespace), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "audio: %s at %d Hz\n", audio.PCMDuration(pcm, rate), rate)
		reply, err := assistant.VoiceTurn(cmd.Context(), uuid.NewString(), wav)
		if errors.Is(err, call.ErrEmptyTranscript) {
			fmt.Fprintln(out, "transcript: (no speech recognized)")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "transcript: %s\nreply: %s\nspeech: %s\ntook: %s\n",
			reply.Transcript, reply.Text, reply.SpeechText, reply.Duration.Round(time.Millisecond))
		return nil
	},
}
