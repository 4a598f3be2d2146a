package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/OTAI/internal/models"
)

func sampleReferral() models.ReferralForm {
	created := time.Date(2024, 6, 3, 8, 30, 0, 0, time.UTC)
	return models.ReferralForm{
		ID:        "ref-1",
		UserID:    "u1",
		CreatedAt: created,
		Status:    models.ReferralStatusSubmitted,
		PatientInfo: models.PatientInfo{
			Name:  "Anna Andersson",
			Email: "anna@example.com",
			Phone: "+46701234567",
		},
		Challenges: models.Challenges{
			Primary:   "Svårt att städa",
			Secondary: []string{"Trötthet"},
			Impact:    "Hemmet blir stökigt",
		},
		ConversationSummary: models.ConversationSummary{
			MessageCount: 4,
			MainTopics:   []string{"Hushållsaktiviteter"},
		},
		Needs:            models.Needs{HomeVisit: true},
		Urgency:          models.UrgencyHigh,
		ConsentGiven:     true,
		ConsentTimestamp: &created,
	}
}

func TestUrgencyLabel(t *testing.T) {
	assert.Equal(t, "Låg (2-4 veckor)", UrgencyLabel(models.UrgencyLow))
	assert.Equal(t, "Medel (1-2 veckor)", UrgencyLabel(models.UrgencyMedium))
	assert.Equal(t, "Hög (inom några dagar)", UrgencyLabel(models.UrgencyHigh))
	assert.Equal(t, "Ej angiven", UrgencyLabel("asap"))
}

func TestEmailBody(t *testing.T) {
	body := EmailBody(sampleReferral())

	for _, want := range []string{
		"NY REMISS FRÅN OTAI",
		"Namn: Anna Andersson",
		"Ålder: Ej angivet",
		"- Trötthet",
		"Hembesök: JA",
		"Fysiska hjälpmedel: NEJ",
		"Nivå: Hög (inom några dagar)",
		"Huvudämnen: Hushållsaktiviteter",
		"AI-förslag som prövats: Inga",
		"Remiss-ID: ref-1",
		"Skapad: 2024-06-03 10:30:00",
		"Samtycke givet: Ja (2024-06-03 10:30:00)",
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "YTTERLIGARE KOMMENTARER")
}

func TestTruncateConversation(t *testing.T) {
	short := strings.Repeat("ä", 5000)
	assert.Equal(t, short, TruncateConversation(short))

	long := strings.Repeat("ä", 5001)
	got := TruncateConversation(long)
	assert.True(t, strings.HasPrefix(got, short))
	assert.True(t, strings.HasSuffix(got, truncationNote))
}

func TestLogDelivererFails(t *testing.T) {
	res := LogDeliverer{}.Deliver(context.Background(), sampleReferral())
	assert.False(t, res.Success)
	assert.Equal(t, NotConfiguredMessage, res.Error)
}

type fakeCreator struct {
	mu     sync.Mutex
	params []*twilioApi.CreateMessageParams
	err    error
	block  chan struct{}
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioDelivererSends(t *testing.T) {
	fc := &fakeCreator{}
	d := newTwilioDeliverer(fc, "whatsapp:+15550001111", "+46700000000")

	res := d.Deliver(context.Background(), sampleReferral())
	require.True(t, res.Success)
	require.Len(t, fc.params, 1)
	assert.Equal(t, "whatsapp:+46700000000", *fc.params[0].To)
	assert.Equal(t, "whatsapp:+15550001111", *fc.params[0].From)
	assert.Contains(t, *fc.params[0].Body, "Ny Remiss: Anna Andersson (Hög (inom några dagar))")
}

func TestTwilioDelivererReportsFailure(t *testing.T) {
	fc := &fakeCreator{err: errors.New("status 401")}
	d := newTwilioDeliverer(fc, "+15550001111", "+46700000000")

	res := d.Deliver(context.Background(), sampleReferral())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, "+46700000000", *fc.params[0].To)
}

func TestTwilioDelivererHonoursCancellation(t *testing.T) {
	fc := &fakeCreator{block: make(chan struct{})}
	defer close(fc.block)
	d := newTwilioDeliverer(fc, "+15550001111", "+46700000000")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := d.Deliver(ctx, sampleReferral())
	assert.False(t, res.Success)
}

func TestNewTwilioDelivererRequiresCredentials(t *testing.T) {
	_, err := NewTwilioDeliverer(WithFrom("+1"), WithTo("+2"))
	assert.Error(t, err)
	_, err = NewTwilioDeliverer(WithAccountSID("AC1"), WithAuthToken("tok"))
	assert.Error(t, err)
}

func TestMockDeliverer(t *testing.T) {
	m := NewMockDeliverer()
	assert.True(t, m.Deliver(context.Background(), sampleReferral()).Success)
	m.DeliverFunc = func(ctx context.Context, r models.ReferralForm) Result { return Failed("nej") }
	assert.Equal(t, Failed("nej"), m.Deliver(context.Background(), sampleReferral()))
	assert.Equal(t, 2, m.Count())
}

func TestTwilioMessageBodyVariants(t *testing.T) {
	short := sampleReferral()
	body := messageBody(short)
	assert.Contains(t, body, "NY REMISS FRÅN OTAI")

	long := sampleReferral()
	long.ConversationSummary.ConversationText = strings.Repeat("Anna: Jag behöver hjälp.\n\n", 200)
	body = messageBody(long)
	assert.NotContains(t, body, "NY REMISS FRÅN OTAI")
	assert.Contains(t, body, "Remiss-ID: ref-1")
	assert.LessOrEqual(t, len([]rune(body)), maxTwilioBodyRunes)
}

type panickingCreator struct{}

func (panickingCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	panic("nil transport")
}

func TestTwilioDelivererRecoversFromClientPanic(t *testing.T) {
	d := newTwilioDeliverer(panickingCreator{}, "+15550001111", "+46700000000")

	var res Result
	require.NotPanics(t, func() {
		res = d.Deliver(context.Background(), sampleReferral())
	})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
