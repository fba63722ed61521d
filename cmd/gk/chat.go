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
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

// maxAttachmentBytes mirrors the server's request cap less JSON overhead.
const maxAttachmentBytes = 8 << 20

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Negotiate access with the gatekeeper",
	Long: `Send a message to the gatekeeper and print its reply.

With no message, chat runs interactively: each line you type is sent in the
same conversation until the gatekeeper allows or denies the request.`,
	GroupID: "network",
	RunE: func(cmd *cobra.Command, args []string) error {
		who, _ := cmd.Flags().GetString("client")
		convID, _ := cmd.Flags().GetString("conversation")
		attach, _ := cmd.Flags().GetString("attach")

		att, err := readAttachment(attach)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			_, err := sendChat(cmd.Context(), out, &client.ChatRequest{
				Client:         who,
				ConversationID: convID,
				Message:        strings.Join(args, " "),
				Attachment:     att,
			})
			return err
		}
		return chatLoop(cmd.Context(), cmd.InOrStdin(), out, who, convID, att)
	},
}

func init() {
	chatCmd.Flags().String("client", "", "device MAC to act for (operator only)")
	chatCmd.Flags().String("conversation", "", "continue an existing conversation")
	chatCmd.Flags().String("attach", "", "image file to attach as proof")
}

// chatLoop reads one message per line until the conversation ends.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, who, convID string, att *model.Attachment) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, ui.RenderAccent("> "))
		if !sc.Scan() {
			return sc.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		reply, err := sendChat(ctx, out, &client.ChatRequest{
			Client:         who,
			ConversationID: convID,
			Message:        text,
			Attachment:     att,
		})
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
				fmt.Fprintln(out, ui.RenderMuted(apiErr.Message))
				continue
			}
			return err
		}
		att = nil
		if reply.Kind != model.ReplyClarify {
			return nil
		}
		convID = reply.ConversationID
	}
}

func sendChat(ctx context.Context, out io.Writer, req *client.ChatRequest) (*model.Reply, error) {
	reply, err := gkClient.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if jsonOutput {
		return reply, printJSON(out, reply)
	}
	printReply(out, reply, time.Now())
	return reply, nil
}

func printReply(w io.Writer, r *model.Reply, now time.Time) {
	fmt.Fprintf(w, "[%s] %s\n", ui.RenderReply(r.Kind), r.Message)
	switch {
	case r.Kind == model.ReplyAllow && r.ExpiresAt != nil:
		fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("access (%s) for %s", r.DurationClass, formatRemaining(*r.ExpiresAt, now))))
	case r.Kind == model.ReplyClarify:
		fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("%d of %d turns left", r.TurnsLeft, r.TurnsLeft+r.TurnsUsed)))
	case r.Reason != "":
		fmt.Fprintln(w, ui.RenderMuted("reason: "+r.Reason))
	}
}

func readAttachment(path string) (*model.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s is larger than %d MiB", path, maxAttachmentBytes>>20)
	}
	return &model.Attachment{MIMEType: http.DetectContentType(data), Data: data}, nil
}
