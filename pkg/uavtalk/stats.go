package uavtalk

import "sync"

// Stats counts link traffic.
type Stats struct {
	RxBytes       uint64
	RxObjectBytes uint64
	RxObjects     uint64
	RxErrors      uint64
	RxUnknown     uint64
	TxBytes       uint64
	TxObjectBytes uint64
	TxObjects     uint64
	TxErrors      uint64
}

type statsCounter struct {
	lock  sync.Mutex
	stats Stats
}

func (c *statsCounter) update(fn func(*Stats)) {
	c.lock.Lock()
	fn(&c.stats)
	c.lock.Unlock()
}

func (c *statsCounter) get() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stats
}

func (c *statsCounter) reset() {
	c.lock.Lock()
	c.stats = Stats{}
	c.lock.Unlock()
}
