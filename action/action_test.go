package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	cases := []Action{
		SubmitInitial{},
		PickDay{Part: 2},
		PickRoles{Category: "backend"},
		PublishDraft{},
		AcceptOrder{OrderID: "ORD-lx2k9-ab12"},
		RateProject{OrderID: "ORD-lx2k9-ab12", CoderID: "42", Rating: 0},
	}
	for _, want := range cases {
		got, err := Decode(Encode(want))
		require.NoError(t, err, Encode(want))
		assert.Equal(t, want, got)
	}
}

func TestEncodeShape(t *testing.T) {
	assert.Equal(t, "ord.rate:ORD-1:42:5", Encode(RateProject{OrderID: "ORD-1", CoderID: "42", Rating: 5}))
	assert.Equal(t, "wiz.date.skip", Encode(SkipDate{}))
}

func TestDecodeRejectsUnknown(t *testing.T) {
	for _, id := range []string{
		"",
		"accept_order_ORD-1",
		"ord.accept",
		"ord.accept:",
		"wiz.day:zero",
		"wiz.publish:extra",
		"ord.rate:ORD-1:42",
		"ord.rate:ORD-1:42:high",
	} {
		_, err := Decode(id)
		if !errors.Is(err, ErrUnknownAction) {
			t.Fatalf("Decode(%q) error = %v, want ErrUnknownAction", id, err)
		}
	}
}
