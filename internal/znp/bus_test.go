package znp

import (
	"reflect"
	"testing"

	"znp-host/internal/unpi"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	b := newBus(testLogger())
	msg := &Message{Type: unpi.AREQ, Subsystem: unpi.ZDO, Name: "stateChangeInd", Params: Params{"state": 9}}

	var order []string
	record := func(name string) Handler {
		return func(*Message) { order = append(order, name) }
	}
	b.subscribe("", record("all-1"))
	b.subscribe(msg.Key(), record("state-1"))
	unsub := b.subscribe("", record("dropped"))
	b.subscribe("", func(*Message) { panic("handler bug") })
	b.subscribe(msg.Key(), record("state-2"))
	b.subscribe("AF:incomingMsg", record("other"))
	b.subscribe("", record("all-2"))
	unsub()

	for i := 0; i < 3; i++ {
		order = order[:0]
		b.publish(msg)
		want := []string{"all-1", "state-1", "state-2", "all-2"}
		if !reflect.DeepEqual(order, want) {
			t.Fatalf("run %d: order = %v, want %v", i, order, want)
		}
	}
}
