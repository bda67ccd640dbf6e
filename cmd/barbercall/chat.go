package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ent0n29/barbercall/internal/app"
	"github.com/ent0n29/barbercall/internal/call"
	"github.com/ent0n29/barbercall/internal/observability"
)

var (
	chatShowSpeech bool
	chatMessage    string
	chatSessionID  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the booking assistant from the terminal",
	Long:  "chat sends typed messages through the same reply pipeline a call uses and renders the markdown answer. Type /history to print the stored transcript and /quit to leave.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		assistant, store, _, err := app.BuildAssistant(ctx, cfg, observability.NewMetrics(cfg.MetricsNamespace), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		sessionID := strings.TrimSpace(chatSessionID)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		c := &chatter{
			assistant: assistant,
			sessionID: sessionID,
			out:       cmd.OutOrStdout(),
			speech:    chatShowSpeech,
			renderer:  newRenderer(),
		}
		if chatMessage != "" {
			return c.send(ctx, chatMessage)
		}
		return c.repl(ctx, cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().BoolVar(&chatShowSpeech, "speech", false, "also print the text that would be spoken")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session id to continue (default: new session)")
}

func newRenderer() *glamour.TermRenderer {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return nil
	}
	return renderer
}

type chatter struct {
	assistant *call.Assistant
	sessionID string
	out       io.Writer
	speech    bool
	renderer  *glamour.TermRenderer
}

func (c *chatter) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(c.out, "session %s\n", c.sessionID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			if err := c.history(ctx); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			continue
		}
		if err := c.send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *chatter) send(ctx context.Context, text string) error {
	reply, err := c.assistant.TextTurn(ctx, c.sessionID, text)
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, c.render(reply.Text))
	if c.speech {
		for i, chunk := range reply.SpeechChunks {
			fmt.Fprintf(c.out, "  speak[%d]: %s\n", i+1, chunk)
		}
	}
	return nil
}

func (c *chatter) history(ctx context.Context) error {
	entries, err := c.assistant.History(ctx, c.sessionID, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%s  %-9s %s\n", e.CreatedAt.Format("15:04:05"), e.Role, e.Content)
	}
	return nil
}

func (c *chatter) render(markdown string) string {
	if c.renderer == nil {
		return markdown + "\n"
	}
	out, err := c.renderer.Render(markdown)
	if err != nil {
		return markdown + "\n"
	}
	return out
}
