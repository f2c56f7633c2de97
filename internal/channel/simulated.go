package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"agroalert/internal/types"
)

// Compile-time assertion that SimulatedChannel implements types.ChannelAdapter.
var _ types.ChannelAdapter = (*SimulatedChannel)(nil)

// SimulatedChannel logs each message and reports success without any network
// call. It is selected at startup when no bot token is configured: running
// without a messaging provider is an expected operating mode (demo, test,
// local development), and from the dispatcher's perspective this adapter is
// indistinguishable from the real one.
type SimulatedChannel struct {
	logger *slog.Logger
}

// NewSimulatedChannel creates a SimulatedChannel.
func NewSimulatedChannel(logger *slog.Logger) *SimulatedChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedChannel{logger: logger}
}

// Name identifies the adapter in logs and the health endpoint.
func (s *SimulatedChannel) Name() string { return "simulated" }

// Send logs the message and returns a generated message ID.
func (s *SimulatedChannel) Send(ctx context.Context, recipient string, message string) (string, error) {
	id := "sim_" + uuid.NewString()
	s.logger.InfoContext(ctx, "simulated channel delivery",
		"recipient", recipient,
		"message_id", id,
		"message", message,
	)
	return id, nil
}
