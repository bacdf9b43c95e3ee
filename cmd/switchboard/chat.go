// ABOUTME: The chat command sends turns to POST /api/chat and prints the reply as it streams
// ABOUTME: With no arguments it reads one message per line from stdin, keeping the conversation

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/stream"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// chatReply is what one streamed turn produced.
type chatReply struct {
	ConversationID string
	Agent          string
	Content        string
	ToolCalls      []stream.Record
}

func (c *cli) chatCommand() *cobra.Command {
	var (
		conversationID string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				reply, err := client.chat(cmd.Context(), strings.Join(args, " "), conversationID, idempotencyKey, out)
				if reply != nil {
					printReplyFooter(out, reply)
				}
				return err
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			prompt := color.New(color.FgCyan)
			for {
				prompt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				reply, err := client.chat(cmd.Context(), line, conversationID, "", out)
				if err != nil {
					color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
				}
				if reply != nil {
					conversationID = reply.ConversationID
					printReplyFooter(out, reply)
				}
				if cmd.Context().Err() != nil {
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "reject a repeat of this request")
	return cmd
}

// chat runs one turn, writing content fragments to out as they arrive.
func (a *apiClient) chat(ctx context.Context, message, conversationID, idempotencyKey string, out io.Writer) (*chatReply, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := a.request(ctx, http.MethodPost, "/api/chat", chatRequest{
		Messages:       []chatMessage{{Role: "user", Content: message}},
		ConversationID: conversationID,
	}, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reply := &chatReply{
		ConversationID: resp.Header.Get("X-Conversation-ID"),
		Agent:          resp.Header.Get("X-Agent-Role"),
	}
	color.New(color.FgHiBlack).Fprintf(out, "[%s] ", reply.Agent)

	r := stream.NewReassembler()
	r.OnContent = func(fragment string) {
		fmt.Fprint(out, fragment)
	}
	_, copyErr := io.Copy(r, resp.Body)
	_ = r.Close()
	fmt.Fprintln(out)

	reply.Content = r.Content()
	reply.ToolCalls = r.ToolCalls()
	if copyErr != nil {
		return reply, fmt.Errorf("reading stream: %w", copyErr)
	}

	var upstream *stream.UpstreamError
	if err := r.Err(); errors.As(err, &upstream) {
		return reply, fmt.Errorf("%s (%s)", upstream.Message, upstream.Kind)
	} else if err != nil {
		return reply, err
	}
	return reply, nil
}

func printReplyFooter(out io.Writer, reply *chatReply) {
	gray := color.New(color.FgHiBlack)
	for _, rec := range reply.ToolCalls {
		for _, call := range rec.Calls {
			status := string(call.Status)
			if call.Error != "" {
				status += ": " + call.Error
			}
			gray.Fprintf(out, "  tool %s -> %s\n", call.Request.Name, status)
		}
	}
	gray.Fprintf(out, "  conversation %s\n", reply.ConversationID)
}
