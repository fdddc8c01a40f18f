package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SlackMsg struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Fallback string   `json:"fallback,omitempty"`
	Text     string   `json:"text"`
	Color    string   `json:"color,omitempty"`
	Markdown []string `json:"mrkdwn_in,omitempty"`
}

// Slack posts to an incoming webhook.
type Slack struct {
	HookURL  string
	Username string
	// Events restricts which kinds of notification are sent; empty
	// means all of them.
	Events []string
	Client *http.Client
}

func NewSlack(hookURL, username string, events []string) *Slack {
	return &Slack{
		HookURL:  hookURL,
		Username: username,
		Events:   events,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *Slack) Notify(ctx context.Context, n Notification) error {
	if !wants(s.Events, n.Kind) {
		return nil
	}
	text, err := Text(n)
	if err != nil {
		return err
	}
	msg := SlackMsg{Username: s.Username, Text: text}
	switch n.Kind {
	case Failed, Aborted:
		if n.Error != "" {
			msg.Attachments = append(msg.Attachments, SlackAttachment{
				Fallback: n.Error,
				Text:     "```" + n.Error + "```",
				Color:    "warning",
				Markdown: []string{"text"},
			})
		}
	case Succeeded:
		msg.Attachments = append(msg.Attachments, SlackAttachment{Fallback: text, Text: text, Color: "good"})
	}
	return s.post(ctx, msg)
}

func (s *Slack) post(ctx context.Context, msg SlackMsg) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return errors.Wrap(err, "encoding Slack POST request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.HookURL, buf)
	if err != nil {
		return errors.Wrap(err, "constructing Slack HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP POST to Slack")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return fmt.Errorf("%s from Slack (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
