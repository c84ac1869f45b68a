package subscriptions

import "testing"

func TestToExtJSONSingleSubscription(t *testing.T) {
	name := "dogs"
	sub := newSubscription(&name, "Dog", "age > 3")
	set := &SubscriptionSet{subs: []Subscription{sub}}

	if got, want := set.ToExtJSON(), `{"Dog":"(age > 3)"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToExtJSONDedupesIdenticalQueriesPerClass(t *testing.T) {
	a := newSubscription(nil, "Dog", "age > 3")
	b := newSubscription(nil, "Dog", "age > 3")
	set := &SubscriptionSet{subs: []Subscription{a, b}}

	if got, want := set.ToExtJSON(), `{"Dog":"(age > 3)"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToExtJSONJoinsDistinctQueriesWithOR(t *testing.T) {
	a := newSubscription(nil, "Dog", "age > 3")
	b := newSubscription(nil, "Dog", "age < 1")
	set := &SubscriptionSet{subs: []Subscription{a, b}}

	if got, want := set.ToExtJSON(), `{"Dog":"(age < 1) OR (age > 3)"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToExtJSONGroupsMultipleClasses(t *testing.T) {
	dog := newSubscription(nil, "Dog", "age > 3")
	cat := newSubscription(nil, "Cat", "name == \"Fuzzy\"")
	set := &SubscriptionSet{subs: []Subscription{dog, cat}}

	if got, want := set.ToExtJSON(), `{"Cat":"(name == \"Fuzzy\")","Dog":"(age > 3)"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToExtJSONEmptySet(t *testing.T) {
	set := &SubscriptionSet{}
	if got, want := set.ToExtJSON(), "{}"; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToExtJSONIsInsensitiveToDeclarationOrder(t *testing.T) {
	a := newSubscription(nil, "Dog", "age > 3")
	b := newSubscription(nil, "Dog", "age < 1")

	forward := &SubscriptionSet{subs: []Subscription{a, b}}
	reverse := &SubscriptionSet{subs: []Subscription{b, a}}

	if forward.ToExtJSON() != reverse.ToExtJSON() {
		t.Fatalf("expected order-independent output: %s vs %s", forward.ToExtJSON(), reverse.ToExtJSON())
	}
}
