// Command callprobe measures call latency against a running gateway. It
// streams a recording into a live call at real-time pace and reports how long
// endpointing, transcription and the reply took for each turn.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	baseURL      string
	wavPath      string
	turns        int
	chunkMS      int
	realtime     float64
	tailSilence  time.Duration
	turnTimeout  time.Duration
	verbose      bool
	skipPlayback bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callprobe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "callprobe",
		Short:         "Stream audio into a live call and report turn latencies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report, err := run(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			report.Print(cmd.OutOrStdout())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "gateway base URL")
	f.StringVar(&opts.wavPath, "wav", "", "16-bit PCM WAV to replay (default: synthetic speech-like noise)")
	f.IntVar(&opts.turns, "turns", 5, "number of turns to replay")
	f.IntVar(&opts.chunkMS, "chunk-ms", 32, "audio chunk size in milliseconds")
	f.Float64Var(&opts.realtime, "realtime", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	f.DurationVar(&opts.tailSilence, "tail-silence", 2500*time.Millisecond, "silence streamed after each utterance")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 20*time.Second, "time allowed for each turn to produce a reply")
	f.BoolVar(&opts.verbose, "verbose", false, "print per-turn progress")
	f.BoolVar(&opts.skipPlayback, "skip-playback", false, "do not report speech_started/speech_ended after replies")
	return cmd
}

func (o *options) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	switch {
	case o.baseURL == "":
		return fmt.Errorf("base-url is required")
	case o.turns <= 0:
		return fmt.Errorf("turns must be > 0")
	case o.chunkMS < 10 || o.chunkMS > 2000:
		return fmt.Errorf("chunk-ms must be in [10,2000]")
	case o.realtime <= 0:
		return fmt.Errorf("realtime must be > 0")
	case o.tailSilence <= 0:
		return fmt.Errorf("tail-silence must be > 0")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	return nil
}

func withDeadline(ctx context.Context, opts options) (context.Context, context.CancelFunc) {
	perTurn := opts.turnTimeout + opts.tailSilence + 5*time.Second
	return context.WithTimeout(ctx, time.Duration(opts.turns)*perTurn+time.Minute)
}
