package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/OTAI/internal/models"
)

// maxTwilioBodyRunes keeps a notification inside one WhatsApp/SMS message.
const maxTwilioBodyRunes = 1500

// messageCreator is the part of the Twilio REST client the deliverer uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio deliverer.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string // sender, "+46..." or "whatsapp:+46..."
	To         string // therapist team inbox, same format as From
}

// TwilioOption defines a configuration option for the Twilio deliverer.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

func WithFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

func WithTo(to string) TwilioOption {
	return func(o *TwilioOpts) { o.To = to }
}

// TwilioDeliverer notifies the therapist team of a referral through a
// Twilio message.
type TwilioDeliverer struct {
	api  messageCreator
	from string
	to   string
}

// Compile-time check that TwilioDeliverer implements Deliverer.
var _ Deliverer = (*TwilioDeliverer)(nil)

// NewTwilioDeliverer creates a deliverer from the given options.
func NewTwilioDeliverer(opts ...TwilioOption) (*TwilioDeliverer, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio deliverer config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioDeliverer(client.Api, cfg.From, cfg.To), nil
}

func newTwilioDeliverer(api messageCreator, from, to string) *TwilioDeliverer {
	// A WhatsApp sender needs a WhatsApp recipient.
	if strings.HasPrefix(from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}
	return &TwilioDeliverer{api: api, from: from, to: to}
}

// messageBody sends the full referral when it fits in one message and the
// short notification otherwise.
func messageBody(referral models.ReferralForm) string {
	full := Subject(referral) + "\n\n" + EmailBody(referral)
	if utf8.RuneCountInString(full) <= maxTwilioBodyRunes {
		return full
	}
	body := NotificationText(referral)
	if r := []rune(body); len(r) > maxTwilioBodyRunes {
		body = string(r[:maxTwilioBodyRunes])
	}
	return body
}

// Deliver sends the referral notification. The Twilio SDK call cannot be
// cancelled, so a done ctx abandons the wait and reports failure.
func (d *TwilioDeliverer) Deliver(ctx context.Context, referral models.ReferralForm) Result {
	body := messageBody(referral)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(d.to)
	params.SetFrom(d.from)
	params.SetBody(body)

	type sendResult struct {
		sid string
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: fmt.Errorf("twilio client panicked: %v", r)}
			}
		}()
		msg, err := d.api.CreateMessage(params)
		res := sendResult{err: err}
		if err == nil && msg != nil && msg.Sid != nil {
			res.sid = *msg.Sid
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		slog.Warn("TwilioDeliverer.Deliver: abandoned", "referralID", referral.ID, "error", ctx.Err())
		return Failed("Det gick inte att skicka remissen. Försök igen senare.")
	case res := <-done:
		if res.err != nil {
			slog.Error("TwilioDeliverer.Deliver: send failed", "referralID", referral.ID, "error", res.err)
			return Failed("Det gick inte att skicka remissen. Försök igen senare.")
		}
		slog.Info("TwilioDeliverer.Deliver: referral sent", "referralID", referral.ID, "sid", res.sid)
		return Succeeded()
	}
}
