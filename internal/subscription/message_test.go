package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelName(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		operation string
		want      string
	}{
		{"first field", `subscription { messageAdded { id } other }`, "", "messageAdded"},
		{"aliased field uses its name", `subscription { m: messageAdded { id } }`, "", "messageAdded"},
		{"skips __typename", `subscription { __typename messageAdded { id } }`, "", "messageAdded"},
		{"inline fragment", `subscription { ... on Subscription { roomJoined } }`, "", "roomJoined"},
		{"fragment spread", `subscription { ...F } fragment F on Subscription { typing }`, "", "typing"},
		{"named operation", `subscription A { a } subscription B { b }`, "B", "b"},
		{"query only", `{ me }`, "", "fallback"},
		{"unparsable", `subscription {`, "", "fallback"},
		{"unknown operation name", `subscription A { a }`, "Z", "fallback"},
		{"nested fragments skip __typename", `subscription { __typename ...F } fragment F on Subscription { __typename ... on Subscription { joined } }`, "", "joined"},
		{"cyclic fragments", `subscription { ...F } fragment F on S { ...F }`, "", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChannelName(tt.query, tt.operation, "fallback"))
		})
	}
}
