package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"storefront-checkout/internal/pkg/helper"

	gonanoid "github.com/matoous/go-nanoid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerRetryCount = "x-retry-count"
	headerMessageID  = "id"
)

type Message struct {
	ID          string     `json:"id"`
	Body        []byte     `json:"content"`
	Headers     amqp.Table `json:"headers,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	ContentType string     `json:"content_type"`
}

// NewMessage encodes payload: strings and bytes are sent as-is, anything
// else as JSON.
func NewMessage(payload any, headers amqp.Table) (*Message, error) {
	gid, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	var body []byte
	var contentType string
	switch v := payload.(type) {
	case string:
		body, contentType = []byte(v), "text/plain"
	case []byte:
		body, contentType = v, "application/octet-stream"
	default:
		body, err = helper.JSONToByte(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message: %w", err)
		}
		contentType = "application/json"
	}

	if headers == nil {
		headers = amqp.Table{}
	}

	return &Message{
		ID:          fmt.Sprintf("msg_%s_%d", gid, time.Now().Unix()),
		Body:        body,
		Headers:     headers,
		Timestamp:   time.Now(),
		ContentType: contentType,
	}, nil
}

func (m *Message) Publishing() amqp.Publishing {
	m.Headers[headerMessageID] = m.ID

	return amqp.Publishing{
		ContentType:  m.ContentType,
		Body:         m.Body,
		MessageId:    m.ID,
		Timestamp:    m.Timestamp,
		DeliveryMode: amqp.Persistent,
		Headers:      m.Headers,
	}
}

// Decode unmarshals a JSON delivery body into T.
func Decode[T any](msg *amqp.Delivery) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", msg.MessageId, err)
	}
	return &v, nil
}

// republishing copies every property of a delivery for a retry or a
// dead-letter publish.
func republishing(msg *amqp.Delivery) amqp.Publishing {
	return amqp.Publishing{
		Headers:         msg.Headers,
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		DeliveryMode:    msg.DeliveryMode,
		Priority:        msg.Priority,
		CorrelationId:   msg.CorrelationId,
		ReplyTo:         msg.ReplyTo,
		Expiration:      msg.Expiration,
		MessageId:       msg.MessageId,
		Timestamp:       msg.Timestamp,
		Type:            msg.Type,
		UserId:          msg.UserId,
		AppId:           msg.AppId,
		Body:            msg.Body,
	}
}
