package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentengine/pkg/agent"
)

type chatOptions struct {
	userID         string
	conversationID string
	jsonOutput     bool
	showMetrics    bool
	noProgress     bool
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to the agent",
		Long: `Send one message and print the reply as it is generated.

Without a message, chat reads one message per line from standard input and
answers each in the same conversation until EOF.`,
		Example: `  # One question
  agentengine chat "what time is it in Tokyo?"

  # Continue an earlier conversation
  agentengine chat --conversation 0c5e... "and in Paris?"

  # Interactive session
  agentengine chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *engine) error {
				return runChat(ctx, cmd, e, opts, strings.Join(args, " "))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.userID, "user", "u", "cli", "User the conversation belongs to")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Conversation to continue; a new one when empty")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print each response as a JSON line")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print collected metrics to stderr when done")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Hide still-working notices")
	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, e *engine, opts *chatOptions, message string) error {
	if opts.conversationID == "" {
		opts.conversationID = uuid.NewString()
	}
	p := &printer{
		out:          cmd.OutOrStdout(),
		errOut:       cmd.ErrOrStderr(),
		jsonOutput:   opts.jsonOutput,
		showProgress: !opts.noProgress && isTerminal(cmd.ErrOrStderr()),
	}

	var err error
	if message != "" {
		err = turn(ctx, e, p, opts, message)
	} else {
		err = converse(ctx, cmd.InOrStdin(), e, p, opts)
	}

	if opts.showMetrics && e.prometheus != nil {
		if werr := e.prometheus.WriteText(cmd.ErrOrStderr()); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

// converse answers stdin line by line. A failed turn is reported and the
// session goes on.
func converse(ctx context.Context, in io.Reader, e *engine, p *printer, opts *chatOptions) error {
	interactive := isTerminal(in)
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(p.errOut, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := turn(ctx, e, p, opts, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(p.errOut, "Error: %v\n", err)
		}
	}
}

// errTurnFailed carries the user-safe message of an error response.
type errTurnFailed struct {
	message string
	kind    any
}

func (e *errTurnFailed) Error() string {
	if e.kind == nil {
		return e.message
	}
	return fmt.Sprintf("%s (%v)", e.message, e.kind)
}

func turn(ctx context.Context, e *engine, p *printer, opts *chatOptions, message string) error {
	stream := e.agent.Process(ctx, agent.Request{
		UserID:         opts.userID,
		ConversationID: opts.conversationID,
		Message:        message,
	})

	var failed error
	for resp := range stream {
		if err := p.print(resp); err != nil {
			return err
		}
		if resp.Kind == agent.KindError {
			failed = &errTurnFailed{message: resp.Content, kind: resp.Metadata[agent.MetaErrorKind]}
		}
	}
	return failed
}

// printer renders a response stream. Fragments go to out as they arrive and
// the final response only completes the line; without fragments the final
// content is printed whole.
type printer struct {
	out          io.Writer
	errOut       io.Writer
	jsonOutput   bool
	showProgress bool
	streamed     bool
}

func (p *printer) print(resp agent.Response) error {
	if p.jsonOutput {
		if resp.Kind == agent.KindProgress && !p.showProgress {
			return nil
		}
		return json.NewEncoder(p.out).Encode(resp)
	}

	switch resp.Kind {
	case agent.KindFragment:
		p.streamed = true
		_, err := io.WriteString(p.out, resp.Content)
		return err
	case agent.KindProgress:
		if p.showProgress {
			fmt.Fprintf(p.errOut, "... %s\n", resp.Content)
		}
		return nil
	case agent.KindFinal:
		streamed := p.streamed
		p.streamed = false
		if streamed {
			_, err := fmt.Fprintln(p.out)
			return err
		}
		_, err := fmt.Fprintln(p.out, resp.Content)
		return err
	case agent.KindError:
		if p.streamed {
			fmt.Fprintln(p.out)
			p.streamed = false
		}
		return nil
	}
	return nil
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
