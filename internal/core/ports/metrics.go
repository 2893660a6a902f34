package ports

import (
	"time"

	"reelcast/internal/core/domain"
)

// Metrics receives client-side counters from the session manager and transport.
type Metrics interface {
	SessionOpened(role domain.Role)
	SessionClosed(role domain.Role)
	SessionConnected(role domain.Role, setup time.Duration)
	MessageSent(kind domain.MessageKind)
	MessageReceived(kind domain.MessageKind, outcome domain.Outcome)
	CandidateBuffered()
	NegotiationTimedOut(role domain.Role)
	Reconnected()
	BytesReceived(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(domain.Role)                          {}
func (NopMetrics) SessionClosed(domain.Role)                          {}
func (NopMetrics) SessionConnected(domain.Role, time.Duration)        {}
func (NopMetrics) MessageSent(domain.MessageKind)                     {}
func (NopMetrics) MessageReceived(domain.MessageKind, domain.Outcome) {}
func (NopMetrics) CandidateBuffered()                                 {}
func (NopMetrics) NegotiationTimedOut(domain.Role)                    {}
func (NopMetrics) Reconnected()                                       {}
func (NopMetrics) BytesReceived(int)                                  {}
