package bus

import "fmt"

// Channel is one of the fixed logical streams on the bus.
type Channel string

const (
	ChannelPrices     Channel = "prices"
	ChannelSentiment  Channel = "sentiment"
	ChannelEvents     Channel = "events"
	ChannelIndicators Channel = "indicators"
	ChannelRegime     Channel = "regime"
	ChannelSignals    Channel = "signals"
)

var allChannels = []Channel{
	ChannelPrices,
	ChannelSentiment,
	ChannelEvents,
	ChannelIndicators,
	ChannelRegime,
	ChannelSignals,
}

// AllChannels returns every channel in declaration order.
func AllChannels() []Channel {
	out := make([]Channel, len(allChannels))
	copy(out, allChannels)
	return out
}

// Valid reports whether c belongs to the fixed channel set.
func (c Channel) Valid() bool {
	for _, ch := range allChannels {
		if ch == c {
			return true
		}
	}
	return false
}

func (c Channel) String() string { return string(c) }

// ParseChannel converts a raw name into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}
