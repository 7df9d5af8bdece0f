package events_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/tundra/internal/events"
)

func drain(sub *events.Subscription) []events.Message {
	var out []events.Message
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := events.NewBus(events.WithBuffer(64))
	sub := bus.Subscribe()

	for i := 0; i < 50; i++ {
		bus.Publish(events.NewEvent(fmt.Sprintf("e%d", i), "t1", "", ""))
	}

	got := drain(sub)
	require.Len(t, got, 50)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("e%d", i), msg.(*events.Event).Type)
	}
}

func TestClosedSubscriptionPrunedOnNextPublish(t *testing.T) {
	bus := events.NewBus()
	keep := bus.Subscribe()
	gone := bus.Subscribe()
	require.Equal(t, 2, bus.SubscriberCount())

	gone.Close()
	assert.Equal(t, 2, bus.SubscriberCount(), "pruning is lazy")

	bus.Publish(events.NewEvent("ping", "", "", ""))
	assert.Equal(t, 1, bus.SubscriberCount())
	assert.Len(t, drain(keep), 1)

	_, ok := <-gone.C
	assert.False(t, ok)
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	bus := events.NewBus(events.WithBuffer(2))
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	for i := 0; i < 3; i++ {
		bus.Publish(events.NewEvent("tick", "", "", ""))
		drain(fast)
	}

	assert.Equal(t, 1, bus.SubscriberCount())

	// The two buffered messages are still readable before the close.
	assert.Len(t, drain(slow), 2)
	_, ok := <-slow.C
	assert.False(t, ok)
}

func TestSubscribeFiltered(t *testing.T) {
	tests := map[string]struct {
		filter func(events.Message) bool
		msgs   []events.Message
		exp    int
	}{
		"Matching messages should be delivered.": {
			filter: func(m events.Message) bool { return m.Kind() == events.KindError },
			msgs: []events.Message{
				&events.ErrorMessage{Code: "E1"},
				events.NewEvent("x", "", "", ""),
				&events.ErrorMessage{Code: "E2"},
			},
			exp: 2,
		},
		"Non matching messages should be skipped without dropping the subscriber.": {
			filter: func(m events.Message) bool { return false },
			msgs:   []events.Message{events.NewEvent("x", "", "", "")},
			exp:    0,
		},
		"A panicking filter should be treated as a non match.": {
			filter: func(m events.Message) bool { panic("boom") },
			msgs:   []events.Message{events.NewEvent("x", "", "", "")},
			exp:    0,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			bus := events.NewBus()
			sub := bus.SubscribeFiltered(test.filter)

			for _, msg := range test.msgs {
				bus.Publish(msg)
			}

			assert.Len(t, drain(sub), test.exp)
			assert.Equal(t, 1, bus.SubscriberCount())
		})
	}
}

func TestSubscribeForAgent(t *testing.T) {
	bus := events.NewBus()
	forA := bus.SubscribeForAgent("agent-a")
	all := bus.Subscribe()

	msgs := []events.Message{
		events.NewEvent("task_execution_start", "t1", "", "").WithAgent("agent-a"),
		events.NewEvent("task_execution_start", "t2", "", "").WithAgent("agent-b"),
		&events.AgentOutput{AgentID: "agent-a", Output: "hello"},
		&events.AgentOutput{AgentID: "agent-b", Output: "other"},
		&events.StatusUpdate{Version: "1", AgentsActive: 2},
		events.NewEvent("pipeline_start", "t1", "", ""),
		&events.ErrorMessage{Code: "E", Message: "no agent"},
	}
	for _, msg := range msgs {
		bus.Publish(msg)
	}

	got := drain(forA)
	require.Len(t, got, 2)
	for _, msg := range got {
		id, ok := msg.(events.AgentScoped).AgentRef()
		assert.True(t, ok)
		assert.Equal(t, "agent-a", id)
	}
	assert.Len(t, drain(all), len(msgs))
}

func TestFilterMatch(t *testing.T) {
	now := time.Now().UTC()
	ev := &events.Event{Type: "phase_start:Coding", TaskID: "t1", BeadID: "b1", Timestamp: now}

	tests := map[string]struct {
		filter events.Filter
		msg    events.Message
		exp    bool
	}{
		"Empty filter matches anything.": {
			msg: &events.StatusUpdate{},
			exp: true,
		},
		"Type filter matches events.": {
			filter: events.Filter{Types: []string{"phase_start:Coding"}},
			msg:    ev,
			exp:    true,
		},
		"Type filter rejects other variants.": {
			filter: events.Filter{Types: []string{"phase_start:Coding"}},
			msg:    &events.AgentOutput{AgentID: "a"},
			exp:    false,
		},
		"Task filter rejects other tasks.": {
			filter: events.Filter{TaskID: "t2"},
			msg:    ev,
			exp:    false,
		},
		"Since filter rejects older events.": {
			filter: events.Filter{Since: now.Add(time.Minute)},
			msg:    ev,
			exp:    false,
		},
		"Kind filter selects variants.": {
			filter: events.Filter{Kinds: []string{events.KindStatus}},
			msg:    &events.StatusUpdate{},
			exp:    true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.filter.Match(test.msg))
		})
	}
}

func TestCloseBus(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()

	bus.Close()
	bus.Publish(events.NewEvent("late", "", "", ""))

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())

	late := bus.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok)
}

func TestFormatEventCompact(t *testing.T) {
	ev := events.NewEvent("task_complete", "t1", "b1", "Task 'x': task_complete")
	assert.Contains(t, events.FormatEventCompact(ev), "task_complete task=t1")

	b, err := events.FormatEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event_type":"task_complete"`)
}
