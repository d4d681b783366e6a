package messaging

import (
	"github.com/glimte/mmate-relay/contracts"
)

// Observer receives the outcome of every relayed or returned message.
// Implementations are called synchronously from the relay goroutines and
// must not block.
type Observer interface {
	OnPublished(event contracts.PublishedEvent)
	OnReturned(event contracts.ReturnedEvent)
	OnFailed(event contracts.FailedEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Published func(contracts.PublishedEvent)
	Returned  func(contracts.ReturnedEvent)
	Failed    func(contracts.FailedEvent)
}

// OnPublished implements Observer
func (f ObserverFuncs) OnPublished(event contracts.PublishedEvent) {
	if f.Published != nil {
		f.Published(event)
	}
}

// OnReturned implements Observer
func (f ObserverFuncs) OnReturned(event contracts.ReturnedEvent) {
	if f.Returned != nil {
		f.Returned(event)
	}
}

// OnFailed implements Observer
func (f ObserverFuncs) OnFailed(event contracts.FailedEvent) {
	if f.Failed != nil {
		f.Failed(event)
	}
}

// Observers fans every event out to each observer in order
type Observers []Observer

// OnPublished implements Observer
func (o Observers) OnPublished(event contracts.PublishedEvent) {
	for _, obs := range o {
		obs.OnPublished(event)
	}
}

// OnReturned implements Observer
func (o Observers) OnReturned(event contracts.ReturnedEvent) {
	for _, obs := range o {
		obs.OnReturned(event)
	}
}

// OnFailed implements Observer
func (o Observers) OnFailed(event contracts.FailedEvent) {
	for _, obs := range o {
		obs.OnFailed(event)
	}
}

// NoOpObserver ignores every event
type NoOpObserver struct{}

// OnPublished does nothing
func (NoOpObserver) OnPublished(contracts.PublishedEvent) {}

// OnReturned does nothing
func (NoOpObserver) OnReturned(contracts.ReturnedEvent) {}

// OnFailed does nothing
func (NoOpObserver) OnFailed(contracts.FailedEvent) {}
