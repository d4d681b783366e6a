package messaging

import (
	"testing"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/stretchr/testify/assert"
)

func TestObservers(t *testing.T) {
	t.Run("fans events out in order", func(t *testing.T) {
		var calls []string
		first := ObserverFuncs{Published: func(contracts.PublishedEvent) { calls = append(calls, "first") }}
		second := ObserverFuncs{Published: func(contracts.PublishedEvent) { calls = append(calls, "second") }}

		Observers{first, second}.OnPublished(contracts.PublishedEvent{ID: "m-1"})

		assert.Equal(t, []string{"first", "second"}, calls)
	})

	t.Run("nil funcs are skipped", func(t *testing.T) {
		var obs Observer = ObserverFuncs{}
		assert.NotPanics(t, func() {
			obs.OnPublished(contracts.PublishedEvent{})
			obs.OnReturned(contracts.ReturnedEvent{})
			obs.OnFailed(contracts.FailedEvent{})
		})
	})

	t.Run("routes each event kind", func(t *testing.T) {
		rec := &recordingObserver{}
		var obs Observer = Observers{rec, NoOpObserver{}}

		obs.OnPublished(contracts.PublishedEvent{ID: "a"})
		obs.OnReturned(contracts.ReturnedEvent{})
		obs.OnFailed(contracts.FailedEvent{ID: "b", Stage: contracts.StagePublish})

		assert.Len(t, rec.published, 1)
		assert.Len(t, rec.returned, 1)
		assert.Len(t, rec.failed, 1)
	})
}
