package bus

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Bus types accepted by New.
const (
	TypeChannel = "channel"
	TypeNATS    = "nats"
)

// New builds the bus named by cfg.Type. The channel bus only reaches
// subscribers in the same process; run archive workers elsewhere with nats.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeChannel, "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case TypeNATS:
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type %q (want %s or %s)", cfg.Type, TypeChannel, TypeNATS)
	}
}
