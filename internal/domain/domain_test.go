package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDomainStatusAllCombinations(t *testing.T) {
	for _, dkim := range []bool{false, true} {
		for _, spf := range []bool{false, true} {
			for _, tracking := range []bool{false, true} {
				got := ComputeDomainStatus(dkim, spf, tracking)
				switch {
				case dkim && spf && tracking:
					assert.Equal(t, DomainVerified, got)
				case !dkim && !spf && !tracking:
					assert.Equal(t, DomainPending, got)
				default:
					assert.Equal(t, DomainPartiallyVerified, got, "dkim=%v spf=%v tracking=%v", dkim, spf, tracking)
				}
			}
		}
	}
}

func TestResetVerification(t *testing.T) {
	d := &DomainIdentity{DKIMVerified: true, SPFVerified: true, TrackingVerified: true, SPFError: "x"}
	d.RecomputeStatus()
	assert.Equal(t, DomainVerified, d.Status)

	d.ResetVerification()
	assert.Equal(t, DomainPending, d.Status)
	assert.Empty(t, d.SPFError)
}

func TestOwnerValidate(t *testing.T) {
	assert.NoError(t, Owner{UserID: "u1"}.Validate())
	assert.NoError(t, Owner{OrganizationID: "o1"}.Validate())
	assert.ErrorIs(t, Owner{}.Validate(), ErrValidation)
	assert.ErrorIs(t, Owner{UserID: "u1", OrganizationID: "o1"}.Validate(), ErrValidation)
	assert.Equal(t, "org:o1", Owner{OrganizationID: "o1"}.Key())
	assert.Equal(t, "user:u1", Owner{UserID: "u1"}.Key())
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("cmp", "sub", "Hello")
	assert.Len(t, a, 64)
	assert.Equal(t, a, IdempotencyKey("cmp", "sub", "Hello"))
	assert.NotEqual(t, a, IdempotencyKey("cmp", "sub", "Hello!"))
	assert.NotEqual(t, IdempotencyKey("ab", "c", "s"), IdempotencyKey("a", "bc", "s"))
}

func TestPayloadIdempotencyKeyFallbacks(t *testing.T) {
	triggered := EmailPayload{AutomationID: "auto-1", To: " Jane@X.com ", Subject: "Welcome"}
	assert.Equal(t, IdempotencyKey("auto-1", "jane@x.com", "Welcome"), triggered.IdempotencyKey())

	campaign := EmailPayload{CampaignID: "cmp", SubscriberID: "sub", To: "jane@x.com", Subject: "Hi"}
	assert.Equal(t, IdempotencyKey("cmp", "sub", "Hi"), campaign.IdempotencyKey())
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(2))
}

func TestSendJobValidate(t *testing.T) {
	assert.ErrorIs(t, (&SendJob{Kind: "fax"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&SendJob{Kind: JobSingleEmail}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&SendJob{Kind: JobScheduledCampaign}).Validate(), ErrValidation)
	assert.NoError(t, (&SendJob{Kind: JobSingleEmail, Payload: EmailPayload{To: "a@x.com"}}).Validate())
	assert.NoError(t, (&SendJob{Kind: JobCampaignBatch, Payload: EmailPayload{CampaignID: "c"}}).Validate())
}

func TestSendJobTerminal(t *testing.T) {
	j := &SendJob{Status: JobFailed, Attempts: 2, MaxAttempts: 3}
	assert.False(t, j.IsTerminal())
	assert.True(t, j.FinalAttempt())
	j.Attempts = 3
	assert.True(t, j.IsTerminal())
	assert.True(t, (&SendJob{Status: JobCompleted}).IsTerminal())
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "mail.example.com", EmailDomain("News <news@Mail.Example.com>"))
	assert.Equal(t, "example.com", EmailDomain("a@example.com."))
	assert.Equal(t, "", EmailDomain("nobody"))
	assert.Equal(t, "", EmailDomain("trailing@"))
}

func TestSuppressionEventValidate(t *testing.T) {
	e := &SuppressionEvent{Email: "  B@X.com ", Type: SuppressUnsubscribe}
	assert.NoError(t, e.Validate())
	assert.Equal(t, "b@x.com", e.Email)
	assert.False(t, e.OccurredAt.IsZero())

	assert.ErrorIs(t, (&SuppressionEvent{Email: "a@x.com", Type: "spam"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&SuppressionEvent{Type: SuppressBounce}).Validate(), ErrValidation)
}

func TestSubscriberHelpers(t *testing.T) {
	s := &Subscriber{FirstName: "Ada", LastName: "", OptedOutCategories: []string{"Promotions"}}
	assert.Equal(t, "Ada", s.FullName())
	assert.True(t, s.OptedOutOf("promotions"))
	assert.False(t, s.OptedOutOf("newsletter"))
	assert.False(t, s.OptedOutOf(""))
}
