// Package alert delivers SMS notifications through Twilio.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNoRecipients = errors.New("no recipients configured")

// MessageCreator is the part of the Twilio REST API the notifier uses.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Result lists which recipients accepted the message.
type Result struct {
	Delivered []string
	Failed    map[string]error
}

// OK reports whether at least one recipient got the message.
func (r Result) OK() bool { return len(r.Delivered) > 0 }

type Notifier struct {
	api    MessageCreator
	from   string
	to     []string
	logger *slog.Logger
}

// NewTwilioNotifier builds a notifier on the Twilio REST client. The SDK's
// default HTTP client bounds each request with its own timeout.
func NewTwilioNotifier(accountID, authToken, from string, to []string, logger *slog.Logger) *Notifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountID,
		Password: authToken,
	})
	return NewNotifier(client.Api, from, to, logger)
}

func NewNotifier(api MessageCreator, from string, to []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{api: api, from: from, to: to, logger: logger}
}

// TemperatureMessage is the alert body for a reading.
func TemperatureMessage(celsius float64) string {
	return "The temperature is " + strconv.FormatFloat(celsius, 'f', -1, 64)
}

// Notify sends body to every recipient in turn. One failing recipient does
// not stop the others; the error is non-nil only when nobody got the message.
func (n *Notifier) Notify(ctx context.Context, body string) (Result, error) {
	res := Result{Failed: map[string]error{}}
	if len(n.to) == 0 {
		return res, ErrNoRecipients
	}

	for _, to := range n.to {
		if err := ctx.Err(); err != nil {
			res.Failed[to] = err
			continue
		}

		params := &openapi.CreateMessageParams{}
		params.SetFrom(n.from)
		params.SetTo(to)
		params.SetBody(body)

		msg, err := n.api.CreateMessage(params)
		if err != nil {
			n.logger.Warn("sms send failed", "to", to, "error", err)
			res.Failed[to] = err
			continue
		}

		sid := ""
		if msg != nil && msg.Sid != nil {
			sid = *msg.Sid
		}
		n.logger.Debug("sms sent", "to", to, "sid", sid)
		res.Delivered = append(res.Delivered, to)
	}

	if !res.OK() {
		return res, fmt.Errorf("sms not delivered to any of %d recipients", len(n.to))
	}
	return res, nil
}
