package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DispatchesInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(TopicLogAdded, func(Event) { order = append(order, 1) })
	b.Subscribe(TopicLogAdded, func(Event) { order = append(order, 2) })

	b.Publish(Event{Topic: TopicLogAdded, ScanID: "s1"})

	require.Equal(t, []int{1, 2}, order)
}

func TestBus_OnlyMatchingTopicReceives(t *testing.T) {
	b := New()
	var gotLog, gotVuln bool
	b.Subscribe(TopicLogAdded, func(Event) { gotLog = true })
	b.Subscribe(TopicVulnFound, func(Event) { gotVuln = true })

	b.Publish(Event{Topic: TopicLogAdded})

	assert.True(t, gotLog)
	assert.False(t, gotVuln)
}

func TestBus_CloseDropsFuturePublishes(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe(TopicScanCompleted, func(Event) { count++ })
	b.Close()
	b.Publish(Event{Topic: TopicScanCompleted})
	assert.Equal(t, 0, count)
}

func TestBus_PhaseStartedPrecedesCompleted(t *testing.T) {
	b := New()
	var seq []Topic
	b.Subscribe(TopicPhaseStarted, func(e Event) { seq = append(seq, e.Topic) })
	b.Subscribe(TopicPhaseCompleted, func(e Event) { seq = append(seq, e.Topic) })

	b.Publish(Event{Topic: TopicPhaseStarted, ScanID: "s1"})
	b.Publish(Event{Topic: TopicPhaseCompleted, ScanID: "s1"})

	require.Len(t, seq, 2)
	assert.Equal(t, TopicPhaseStarted, seq[0])
	assert.Equal(t, TopicPhaseCompleted, seq[1])
}
