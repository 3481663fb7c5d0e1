package notify

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

var eventColors = map[string]int{
	models.NotifyOrderCompleted: 0x22c55e,
	models.NotifyPaymentFailed:  0xef4444,
	models.NotifyOrderRefunded:  0xf59e0b,
	models.NotifyStockExhausted: 0xa855f7,
	models.NotifyOrderUnmatched: 0x3b82f6,
}

var eventTitles = map[string]string{
	models.NotifyOrderCompleted: "Order completed",
	models.NotifyPaymentFailed:  "Payment failed",
	models.NotifyOrderRefunded:  "Order refunded",
	models.NotifyStockExhausted: "License stock exhausted",
	models.NotifyOrderUnmatched: "Unmatched payment event",
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
	Footer    struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Discord posts events to a Discord channel webhook.
type Discord struct {
	url       string
	storeName string
	client    *resty.Client
	now       func() time.Time
}

func NewDiscord(webhookURL, storeName string, timeout time.Duration) *Discord {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Discord{
		url:       webhookURL,
		storeName: storeName,
		client:    client,
		now:       time.Now,
	}
}

func (d *Discord) Notify(ctx context.Context, event string, payload map[string]string) error {
	msg := d.render(event, payload)

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	logger.Debug("Discord notification delivered", map[string]interface{}{
		"event":  event,
		"status": resp.StatusCode(),
	})
	return nil
}

func (d *Discord) render(event string, payload map[string]string) discordMessage {
	title, ok := eventTitles[event]
	if !ok {
		title = event
	}
	color, ok := eventColors[event]
	if !ok {
		color = 0x6b7280
	}

	keys := make([]string, 0, len(payload))
	for k, v := range payload {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fields := make([]discordField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, discordField{
			Name:   fieldName(k),
			Value:  payload[k],
			Inline: len(payload[k]) <= 40,
		})
	}

	embed := discordEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	embed.Footer.Text = d.storeName + " • " + event

	return discordMessage{Username: d.storeName, Embeds: []discordEmbed{embed}}
}

// fieldName turns "order_number" into "Order Number".
func fieldName(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
