package notify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	colorComplete = 0x2ECC71
	colorFailed   = 0xE74C3C
)

// channelSender is the part of *discordgo.Session used here.
type channelSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts an embed to a channel, with attachments as files.
type Discord struct {
	sender    channelSender
	session   *discordgo.Session
	channelID string
	now       func() time.Time
}

// NewDiscord creates a bot client for channelID. No gateway connection is
// opened; messages go over the REST API.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{sender: session, session: session, channelID: channelID, now: time.Now}, nil
}

func (d *Discord) Notify(ctx context.Context, m Message) error {
	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{d.embed(m)}}
	for _, a := range m.Attachments {
		send.Files = append(send.Files, &discordgo.File{
			Name:        a.Name,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	if _, err := d.sender.ChannelMessageSendComplex(d.channelID, send, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord message for %s: %w", m.ChataID, err)
	}
	return nil
}

func (d *Discord) embed(m Message) *discordgo.MessageEmbed {
	color := colorComplete
	if m.Kind == KindFailed {
		color = colorFailed
	}
	return &discordgo.MessageEmbed{
		Title:       m.Subject,
		Description: truncateRunes(m.Body, 4000),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "CHATA-ID", Value: m.ChataID, Inline: true},
			{Name: "Status", Value: string(m.Kind), Inline: true},
		},
		Timestamp: d.now().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "CHATA report service"},
	}
}

// Close releases the session.
func (d *Discord) Close() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
