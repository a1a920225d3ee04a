package client

import (
	"sync"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

type delivery struct {
	event broker.Event
	msg   proto.Message
	epoch uint64
	frame bool
}

// deliveries hands inbound frames and lifecycle events to the sink one at a
// time, in the order they were queued. At most one drain goroutine runs, and
// only while there is something to deliver.
type deliveries struct {
	sink EventSink

	mu      sync.Mutex
	pending []delivery
	running bool
	idle    *sync.Cond
}

func newDeliveries(sink EventSink) *deliveries {
	d := &deliveries{sink: sink}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *deliveries) publish(ev broker.Event) {
	d.push(delivery{event: ev})
}

func (d *deliveries) dispatch(msg proto.Message, epoch uint64) {
	d.push(delivery{msg: msg, epoch: epoch, frame: true})
}

func (d *deliveries) push(item delivery) {
	d.mu.Lock()
	d.pending = append(d.pending, item)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()
	go d.drain()
}

func (d *deliveries) drain() {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.pending = nil
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		item := d.pending[0]
		d.pending[0] = delivery{}
		d.pending = d.pending[1:]
		d.mu.Unlock()

		if item.frame {
			d.sink.DispatchMessage(item.msg, item.epoch)
		} else {
			d.sink.Publish(item.event)
		}
	}
}

func (d *deliveries) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// wait blocks until everything queued so far has been delivered. It must
// not be called from a subscriber.
func (d *deliveries) wait() {
	d.mu.Lock()
	for d.running {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
