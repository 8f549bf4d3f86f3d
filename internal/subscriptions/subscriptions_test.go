package subscriptions

import (
	"testing"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/stretchr/testify/require"
)

func TestSubscribeGrantsRequestedQoS(t *testing.T) {
	m := New(nil)
	codes, closeConn := m.Subscribe([]message.SubscribeRequest{
		{Filter: "sensors/+", QoS: message.QoS1},
	})
	require.False(t, closeConn)
	require.Equal(t, []message.QoS{message.QoS1}, codes)
}

func TestDuplicateSubscriptionReplacesPriorEntry(t *testing.T) {
	m := New(nil)
	m.Subscribe([]message.SubscribeRequest{{Filter: "a/b", QoS: message.QoS2}})
	m.Subscribe([]message.SubscribeRequest{{Filter: "a/b", QoS: message.QoS0}})

	res := m.Check(message.Application{Topic: "a/b", QoS: message.QoS2})
	require.True(t, res.IsSubscribed)
	require.Equal(t, message.QoS0, res.EffectiveQoS)
}

func TestUnsubscribeToleratesMissingFilter(t *testing.T) {
	m := New(nil)
	m.Unsubscribe([]string{"never/subscribed"})
}

func TestCheckDowngradesToMinimumOfPublisherAndGranted(t *testing.T) {
	m := New(nil)
	m.Subscribe([]message.SubscribeRequest{{Filter: "t", QoS: message.QoS1}})

	res := m.Check(message.Application{Topic: "t", QoS: message.QoS2})
	require.True(t, res.IsSubscribed)
	require.Equal(t, message.QoS1, res.EffectiveQoS)
}

func TestCheckNotSubscribed(t *testing.T) {
	m := New(nil)
	res := m.Check(message.Application{Topic: "unmatched", QoS: message.QoS0})
	require.False(t, res.IsSubscribed)
}

func TestWildcardMatching(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"sport/tennis/+", "sport/tennis/player1", true},
		{"sport/tennis/+", "sport/tennis/player1/ranking", false},
		{"sport/#", "sport/tennis/player1/ranking", true},
		{"sport/#", "sport", true},
		{"#", "anything/at/all", true},
		{"+/+", "a/b", true},
		{"+", "$SYS/uptime", false},
		{"#", "$SYS/uptime", false},
		{"$SYS/uptime", "$SYS/uptime", true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, message.MatchFilter(c.filter, c.topic), "filter=%q topic=%q", c.filter, c.topic)
	}
}

type closeInterceptor struct{}

func (closeInterceptor) InterceptSubscribe(filter string, requested message.QoS) (message.QoS, bool, bool) {
	return requested, false, true
}

func TestInterceptorCanRejectAndCloseConnection(t *testing.T) {
	m := New(closeInterceptor{})
	codes, closeConn := m.Subscribe([]message.SubscribeRequest{{Filter: "x", QoS: message.QoS0}})
	require.True(t, closeConn)
	require.Equal(t, []message.QoS{message.SubscribeFailure}, codes)
}

type upgradeInterceptor struct{}

func (upgradeInterceptor) InterceptSubscribe(filter string, requested message.QoS) (message.QoS, bool, bool) {
	return message.QoS2, true, false
}

func TestInterceptorCanChangeGrantedQoS(t *testing.T) {
	m := New(upgradeInterceptor{})
	codes, closeConn := m.Subscribe([]message.SubscribeRequest{{Filter: "x", QoS: message.QoS0}})
	require.False(t, closeConn)
	require.Equal(t, []message.QoS{message.QoS2}, codes)
}

func TestInvalidRequestedQoSIsRejectedWithoutInterceptor(t *testing.T) {
	m := New(nil)
	codes, _ := m.Subscribe([]message.SubscribeRequest{{Filter: "x", QoS: message.QoS(3)}})
	require.Equal(t, []message.QoS{message.SubscribeFailure}, codes)
}
