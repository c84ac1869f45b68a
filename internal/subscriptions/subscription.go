package subscriptions

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is one declared client-side query: a name or
// (object class, query text) pair the sync client has asked the server to
// keep in view.
type Subscription struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Name            *string
	ObjectClassName string
	QueryString     string
}

// newSubscription constructs a fresh Subscription with a freshly generated
// id and created_at == updated_at.
func newSubscription(name *string, objectClassName, queryString string) Subscription {
	now := time.Now()
	return Subscription{
		ID:              uuid.New(),
		CreatedAt:       now,
		UpdatedAt:       now,
		Name:            name,
		ObjectClassName: objectClassName,
		QueryString:     queryString,
	}
}

// HasName reports whether this subscription was registered with a name, as
// opposed to anonymously by (object class, query text).
func (s Subscription) HasName() bool {
	return s.Name != nil
}
