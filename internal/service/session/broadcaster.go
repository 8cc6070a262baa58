package session

import (
	"sync"

	model "github.com/zhouzirui/storyline/internal/model/session"
)

// broadcaster fans snapshots out to subscribers. Sends never block: a full
// subscriber loses its oldest pending snapshot so the latest always lands.
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan model.Snapshot
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan model.Snapshot)}
}

func (b *broadcaster) subscribe(buffer int, initial model.Snapshot) (<-chan model.Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Snapshot, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	deliver(ch, initial)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *broadcaster) publish(snap model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		deliver(ch, snap)
	}
}

func deliver(ch chan model.Snapshot, snap model.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
