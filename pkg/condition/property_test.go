package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

// randomEvent builds an audit event whose generated values are returned
// alongside it so properties can be checked against known inputs.
func randomEvent(t *testing.T, faker *gofakeit.Faker) ([]byte, map[string]string) {
	t.Helper()

	values := map[string]string{
		"eventType": faker.Word() + "." + faker.Word(),
		"user":      faker.Username(),
		"ip":        faker.IPv4Address(),
		"leaf":      faker.UUID(),
		"count":     strconv.Itoa(faker.Number(0, 10000)),
	}
	count, _ := strconv.Atoi(values["count"])

	event := map[string]any{
		"eventType": values["eventType"],
		"actor":     map[string]any{"user": values["user"], "ip": values["ip"]},
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": values["leaf"]},
				map[string]any{"c": faker.Word()},
			},
		},
		"count": count,
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data, values
}

func TestProperty_ResolveRoundTrip(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 200; i++ {
		data, values := randomEvent(t, faker)
		doc := mustParse(t, string(data))

		paths := map[string]string{
			"eventType":  values["eventType"],
			"actor.user": values["user"],
			"actor.ip":   values["ip"],
			"a.b[0].c":   values["leaf"],
			"count":      values["count"],
		}
		for path, want := range paths {
			got, found := Resolve(doc, path)
			if !found {
				t.Fatalf("Resolve(%q) not found in %s", path, data)
			}
			if Text(got) != want {
				t.Fatalf("Resolve(%q) = %q, want %q", path, Text(got), want)
			}
		}
	}
}

func TestProperty_OperatorLaws(t *testing.T) {
	faker := gofakeit.New(7)
	e := newTestEvaluator()

	for i := 0; i < 200; i++ {
		data, values := randomEvent(t, faker)
		user := values["user"]
		other := faker.Word()

		// eq and neq are complementary on a present field.
		for _, v := range []string{user, other} {
			eq := e.Evaluate(data, all(NewRule("actor.user", "eq", v)))
			neq := e.Evaluate(data, all(NewRule("actor.user", "neq", v)))
			if eq == neq {
				t.Fatalf("eq/neq not complementary for %q vs %q", user, v)
			}
		}

		// Membership tolerates whitespace around list items.
		list := fmt.Sprintf("%s, %s ,%s", other, user, faker.Word())
		if !e.Evaluate(data, all(NewRule("actor.user", "in", list))) {
			t.Fatalf("%q should be in %q", user, list)
		}
		if e.Evaluate(data, all(NewRule("actor.user", "not_in", list))) {
			t.Fatalf("%q should not be not_in %q", user, list)
		}

		// Numeric ordering agrees with integer ordering.
		count, _ := strconv.Atoi(values["count"])
		pivot := faker.Number(0, 10000)
		gt := e.Evaluate(data, all(NewRule("count", "gt", strconv.Itoa(pivot))))
		if gt != (count > pivot) {
			t.Fatalf("count %d gt %d = %v", count, pivot, gt)
		}
		lte := e.Evaluate(data, all(NewRule("count", "lte", strconv.Itoa(pivot))))
		if lte == gt {
			t.Fatalf("gt and lte agree for %d vs %d", count, pivot)
		}
	}
}

func TestProperty_MatchModeArity(t *testing.T) {
	faker := gofakeit.New(99)
	e := newTestEvaluator()

	for i := 0; i < 100; i++ {
		data, values := randomEvent(t, faker)
		pass := NewRule("eventType", "eq", values["eventType"])
		fail := NewRule("eventType", "eq", values["eventType"]+"-x")

		if !e.Evaluate(data, all()) || !e.Evaluate(data, anyOf()) {
			t.Fatal("zero rules must match under both modes")
		}
		if !e.Evaluate(data, all(pass)) || !e.Evaluate(data, anyOf(pass)) {
			t.Fatal("a single passing rule must match under both modes")
		}
		if e.Evaluate(data, all(fail)) || e.Evaluate(data, anyOf(fail)) {
			t.Fatal("a single failing rule must not match under either mode")
		}

		n := faker.Number(2, 6)
		rules := make([]Rule, n)
		for j := range rules {
			rules[j] = pass
		}
		rules[faker.Number(0, n-1)] = fail
		if e.Evaluate(data, all(rules...)) {
			t.Fatal("all with one failing rule must not match")
		}
		if !e.Evaluate(data, anyOf(rules...)) {
			t.Fatal("any with one passing rule must match")
		}
	}
}
