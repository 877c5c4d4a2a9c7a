package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordSink posts alerts to one channel through the bot REST API. No
// gateway websocket is opened.
type DiscordSink struct {
	channelID string
	session   *discordgo.Session
	logger    *zap.Logger
}

// NewDiscordSink creates a Discord sink for the bot token and channel.
func NewDiscordSink(token, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord sink needs a bot token and a channel id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{channelID: channelID, session: session, logger: logger}, nil
}

func (d *DiscordSink) Platform() string { return "discord" }

// Send posts msg with the title in bold.
func (d *DiscordSink) Send(ctx context.Context, msg *Message) error {
	content := fmt.Sprintf("**[%s] %s**", msg.Type, msg.Title)
	if msg.Content != "" {
		content += "\n" + msg.Content
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close releases the session.
func (d *DiscordSink) Close() error {
	return d.session.Close()
}
