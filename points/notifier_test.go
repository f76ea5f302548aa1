package points_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/points-ledger/pkg/logger"
	"github.com/warp/points-ledger/points"
)

func TestNotifier_DeliversInRegistrationOrder(t *testing.T) {
	n := points.NewNotifier(logger.NewTest())
	var order []string
	n.Subscribe(func(points.BalanceSnapshot) { order = append(order, "first") })
	n.Subscribe(func(points.BalanceSnapshot) { order = append(order, "second") })

	n.Notify(points.BalanceSnapshot{Balance: 1})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNotifier_UnsubscribeTwiceIsHarmless(t *testing.T) {
	n := points.NewNotifier(logger.NewTest())
	calls := 0
	unsubscribe := n.Subscribe(func(points.BalanceSnapshot) { calls++ })
	n.Subscribe(func(points.BalanceSnapshot) {})

	unsubscribe()
	unsubscribe()
	n.Notify(points.BalanceSnapshot{})

	assert.Zero(t, calls)
	assert.Equal(t, 1, n.Len())
}

func TestNotifier_PanickingObserverDoesNotStopOthers(t *testing.T) {
	// GIVEN: An observer that panics ahead of a healthy one
	n := points.NewNotifier(logger.NewTest())
	var got int64
	n.Subscribe(func(points.BalanceSnapshot) { panic("render crashed") })
	n.Subscribe(func(s points.BalanceSnapshot) { got = s.Balance })

	// WHEN: A snapshot is published
	assert.NotPanics(t, func() { n.Notify(points.BalanceSnapshot{Balance: 42}) })

	// THEN: The healthy observer still received it
	assert.Equal(t, int64(42), got)
}

func TestNotifier_Clear(t *testing.T) {
	n := points.NewNotifier(nil)
	n.Subscribe(func(points.BalanceSnapshot) {})
	n.Subscribe(func(points.BalanceSnapshot) {})

	n.Clear()

	assert.Zero(t, n.Len())
}
