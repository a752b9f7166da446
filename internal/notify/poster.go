package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/hochfrequenz/issue-digest/internal/log"
)

// ErrNotInChannel is the chat.postMessage error for a bot outside the channel
const ErrNotInChannel = "not_in_channel"

// Poster posts a text message to a channel
type Poster interface {
	Post(ctx context.Context, channel, text string) error
}

// ChannelPoster posts with chat.postMessage
type ChannelPoster struct {
	client *slack.Client
}

// NewChannelPoster creates a poster for a bot token. apiURL overrides the
// Slack Web API base (it must end with a slash); empty keeps the default.
func NewChannelPoster(token, apiURL string) *ChannelPoster {
	var opts []slack.Option
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &ChannelPoster{client: slack.New(token, opts...)}
}

// Post sends text to channel with link and media unfurling disabled
func (p *ChannelPoster) Post(ctx context.Context, channel, text string) error {
	_, _, err := p.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		log.Error("failed to send message to slack", "channel", channel, "err", err)
		if IsNotInChannel(err) {
			log.Warn("the bot is not in the channel, invite the bot to the channel", "channel", channel)
		}
		return fmt.Errorf("post to %s: %w", channel, err)
	}
	return nil
}

// IsNotInChannel reports whether err is Slack's not_in_channel error
func IsNotInChannel(err error) bool {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return slackErr.Err == ErrNotInChannel
	}
	return err != nil && strings.Contains(err.Error(), ErrNotInChannel)
}

// PostChunked splits text with Chunk and posts every piece. A failed chunk
// does not stop the remaining ones; the errors are joined.
func PostChunked(ctx context.Context, p Poster, channel, text string, limit int) (int, error) {
	var errs []error
	posted := 0
	for _, chunk := range Chunk(text, limit) {
		if err := p.Post(ctx, channel, chunk); err != nil {
			errs = append(errs, err)
			continue
		}
		posted++
	}
	return posted, errors.Join(errs...)
}
