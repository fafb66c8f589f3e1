package trading

import "github.com/aristath/volbalance/internal/domain"

// Recorder receives execution metrics
type Recorder interface {
	OrderFinished(side domain.Side, status domain.OrderStatus)
	OrderSkipped(side domain.Side, reason string)
	OrderCapped(asset domain.Asset)
	PollAttempts(attempts int)
}

type noopRecorder struct{}

func (noopRecorder) OrderFinished(domain.Side, domain.OrderStatus) {}
func (noopRecorder) OrderSkipped(domain.Side, string)              {}
func (noopRecorder) OrderCapped(domain.Asset)                      {}
func (noopRecorder) PollAttempts(int)                              {}
