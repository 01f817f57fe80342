// Package action defines the tagged interaction messages carried in component
// custom ids. Ids are decoded once at the gateway boundary; everything behind
// it switches on concrete types.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownAction = errors.New("action: unknown action")

const sep = ":"

// maxIDLength is the platform limit for a component custom id.
const maxIDLength = 100

type Action interface {
	Kind() string
	args() []string
}

// Wizard actions.
type (
	SubmitInitial  struct{}
	ReopenInitial  struct{}
	PickYear       struct{}
	PickMonth      struct{}
	PickDay        struct{ Part int }
	ConfirmDate    struct{}
	SkipDate       struct{}
	PickCategory   struct{}
	PickRoles      struct{ Category string }
	BackToCategory struct{}
	ConfirmRoles   struct{}
	SkipRoles      struct{}
	PickLevel      struct{}
	OpenPreview    struct{}
	SubmitPreview  struct{}
	PublishDraft   struct{}
	CancelDraft    struct{}
)

// Order actions.
type (
	AcceptOrder         struct{ OrderID string }
	CompleteOrder       struct{ OrderID string }
	RequestVerification struct{ OrderID string }
	CancelOrder         struct{ OrderID string }
	RateProject         struct {
		OrderID string
		CoderID string
		Rating  int
	}
)

func (SubmitInitial) Kind() string       { return "wiz.form" }
func (ReopenInitial) Kind() string       { return "wiz.reopen" }
func (PickYear) Kind() string            { return "wiz.year" }
func (PickMonth) Kind() string           { return "wiz.month" }
func (PickDay) Kind() string             { return "wiz.day" }
func (ConfirmDate) Kind() string         { return "wiz.date.ok" }
func (SkipDate) Kind() string            { return "wiz.date.skip" }
func (PickCategory) Kind() string        { return "wiz.cat" }
func (PickRoles) Kind() string           { return "wiz.roles" }
func (BackToCategory) Kind() string      { return "wiz.cat.back" }
func (ConfirmRoles) Kind() string        { return "wiz.roles.ok" }
func (SkipRoles) Kind() string           { return "wiz.roles.skip" }
func (PickLevel) Kind() string           { return "wiz.level" }
func (OpenPreview) Kind() string         { return "wiz.review" }
func (SubmitPreview) Kind() string       { return "wiz.preview" }
func (PublishDraft) Kind() string        { return "wiz.publish" }
func (CancelDraft) Kind() string         { return "wiz.cancel" }
func (AcceptOrder) Kind() string         { return "ord.accept" }
func (CompleteOrder) Kind() string       { return "ord.complete" }
func (RequestVerification) Kind() string { return "ord.verify" }
func (CancelOrder) Kind() string         { return "ord.cancel" }
func (RateProject) Kind() string         { return "ord.rate" }

func (SubmitInitial) args() []string       { return nil }
func (ReopenInitial) args() []string       { return nil }
func (PickYear) args() []string            { return nil }
func (PickMonth) args() []string           { return nil }
func (a PickDay) args() []string           { return []string{strconv.Itoa(a.Part)} }
func (ConfirmDate) args() []string         { return nil }
func (SkipDate) args() []string            { return nil }
func (PickCategory) args() []string        { return nil }
func (a PickRoles) args() []string         { return []string{a.Category} }
func (BackToCategory) args() []string      { return nil }
func (ConfirmRoles) args() []string        { return nil }
func (SkipRoles) args() []string           { return nil }
func (PickLevel) args() []string           { return nil }
func (OpenPreview) args() []string         { return nil }
func (SubmitPreview) args() []string       { return nil }
func (PublishDraft) args() []string        { return nil }
func (CancelDraft) args() []string         { return nil }
func (a AcceptOrder) args() []string       { return []string{a.OrderID} }
func (a CompleteOrder) args() []string     { return []string{a.OrderID} }
func (a RequestVerification) args() []string { return []string{a.OrderID} }
func (a CancelOrder) args() []string       { return []string{a.OrderID} }
func (a RateProject) args() []string {
	return []string{a.OrderID, a.CoderID, strconv.Itoa(a.Rating)}
}

// Encode renders a as a component custom id.
func Encode(a Action) string {
	parts := append([]string{a.Kind()}, a.args()...)
	return strings.Join(parts, sep)
}

// Decode parses a custom id produced by Encode.
func Decode(id string) (Action, error) {
	if id == "" || len(id) > maxIDLength {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, id)
	}
	parts := strings.Split(id, sep)
	kind, args := parts[0], parts[1:]

	if a, ok := simple[kind]; ok {
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, id)
		}
		return a, nil
	}

	switch kind {
	case PickDay{}.Kind():
		if len(args) != 1 {
			break
		}
		part, err := strconv.Atoi(args[0])
		if err != nil || part < 1 {
			break
		}
		return PickDay{Part: part}, nil
	case PickRoles{}.Kind():
		if len(args) != 1 || args[0] == "" {
			break
		}
		return PickRoles{Category: args[0]}, nil
	case AcceptOrder{}.Kind(), CompleteOrder{}.Kind(), RequestVerification{}.Kind(), CancelOrder{}.Kind():
		if len(args) != 1 || args[0] == "" {
			break
		}
		return orderAction(kind, args[0]), nil
	case RateProject{}.Kind():
		if len(args) != 3 || args[0] == "" || args[1] == "" {
			break
		}
		rating, err := strconv.Atoi(args[2])
		if err != nil {
			break
		}
		return RateProject{OrderID: args[0], CoderID: args[1], Rating: rating}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, id)
}

var simple = map[string]Action{}

func init() {
	for _, a := range []Action{
		SubmitInitial{}, ReopenInitial{}, PickYear{}, PickMonth{}, ConfirmDate{}, SkipDate{},
		PickCategory{}, BackToCategory{}, ConfirmRoles{}, SkipRoles{}, PickLevel{},
		OpenPreview{}, SubmitPreview{}, PublishDraft{}, CancelDraft{},
	} {
		simple[a.Kind()] = a
	}
}

func orderAction(kind, orderID string) Action {
	switch kind {
	case AcceptOrder{}.Kind():
		return AcceptOrder{OrderID: orderID}
	case CompleteOrder{}.Kind():
		return CompleteOrder{OrderID: orderID}
	case RequestVerification{}.Kind():
		return RequestVerification{OrderID: orderID}
	default:
		return CancelOrder{OrderID: orderID}
	}
}
