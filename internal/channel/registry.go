package channel

import (
	"fmt"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// Registry maps each ChannelType to its implementation. It is built once at
// startup and read-only afterwards.
type Registry struct {
	channels map[domain.ChannelType]Channel
}

// NewRegistry indexes channels by their Type. A later duplicate replaces an earlier one.
func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[domain.ChannelType]Channel, len(channels))}
	for _, c := range channels {
		r.channels[c.Type()] = c
	}
	return r
}

// Get returns the channel for t or domain.ErrUnsupportedChannel.
func (r *Registry) Get(t domain.ChannelType) (Channel, error) {
	c, ok := r.channels[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChannel, t)
	}
	return c, nil
}

// Types lists registered channels in domain.AllChannels order.
func (r *Registry) Types() []domain.ChannelType {
	out := make([]domain.ChannelType, 0, len(r.channels))
	for _, t := range domain.AllChannels {
		if _, ok := r.channels[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
