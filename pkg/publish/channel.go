package publish

import (
	"context"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

// ChannelSink forwards snapshots to an in-process consumer, e.g. a broadcast server.
type ChannelSink struct {
	name string
	ch   chan<- model.Snapshot
}

func NewChannelSink(name string, ch chan<- model.Snapshot) *ChannelSink {
	return &ChannelSink{name: name, ch: ch}
}

func (c *ChannelSink) Name() string { return c.name }

func (c *ChannelSink) Publish(ctx context.Context, snap model.Snapshot) Result {
	start := time.Now()
	select {
	case c.ch <- snap:
		return Done(c.name, OpSnapshot, start, nil)
	case <-ctx.Done():
		return Done(c.name, OpSnapshot, start, ctx.Err())
	}
}

func (c *ChannelSink) PublishEvent(context.Context, model.DetectionEvent) Result {
	return Skip(c.name, OpEvent)
}
