package domain

import "strings"

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberSubscribed   SubscriberStatus = "subscribed"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplained   SubscriberStatus = "complained"
	SubscriberPending      SubscriberStatus = "pending"
)

// Subscriber is a single recipient as seen by recipient resolution.
type Subscriber struct {
	ID                 string           `json:"id" db:"id"`
	OrganizationID     string           `json:"organization_id,omitempty" db:"organization_id"`
	Email              string           `json:"email" db:"email"`
	FirstName          string           `json:"first_name" db:"first_name"`
	LastName           string           `json:"last_name" db:"last_name"`
	Status             SubscriberStatus `json:"status" db:"status"`
	OptedOutCategories []string         `json:"opted_out_categories,omitempty" db:"opted_out_categories"`
}

// FullName joins first and last name, skipping empty parts.
func (s *Subscriber) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// OptedOutOf reports whether the subscriber declined the given preference category.
func (s *Subscriber) OptedOutOf(category string) bool {
	if category == "" {
		return false
	}
	for _, c := range s.OptedOutCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
