package progress

import "github.com/example/delivery-tracking/internal/models"

const (
	StageReceived = iota
	StagePreparing
	StageReady
	StageFinal
)

// NoStage is returned for cancelled orders.
const NoStage = -1

var stageIndex = map[models.OrderStatus]int{
	models.OrderPending:    StageReceived,
	models.OrderInProgress: StagePreparing,
	models.OrderReady:      StageReady,
	models.OrderDelivered:  StageFinal,
	models.OrderPaid:       StageFinal,
}

// ActiveStage maps an order status to the highlighted step. The only rule
// beyond the plain mapping: a delivery already picked up while the order
// still reads "ready" shows the final step, since the driver has the food.
func ActiveStage(status models.OrderStatus, delivery *models.DeliveryStatus) int {
	if status == models.OrderCancelled {
		return NoStage
	}
	idx, ok := stageIndex[status]
	if !ok {
		return StageReceived
	}
	if status == models.OrderReady && delivery != nil && *delivery == models.DeliveryPickedUp {
		return StageFinal
	}
	return idx
}

type Step struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Done   bool   `json:"done"`
	Active bool   `json:"active"`
}

// Steps returns the progress bar for an order. The last label depends on
// whether a driver carries the order.
func Steps(o models.Order) []Step {
	var delivery *models.DeliveryStatus
	if o.Delivery != nil {
		s := o.Delivery.Status
		delivery = &s
	}
	final := Step{Key: "completed", Label: "Terminée"}
	if o.Type == models.OrderTypeDelivery {
		final = Step{Key: "en_route", Label: "En livraison"}
	}
	steps := []Step{
		{Key: "received", Label: "Reçue"},
		{Key: "preparing", Label: "En préparation"},
		{Key: "ready", Label: "Prête"},
		final,
	}
	active := ActiveStage(o.Status, delivery)
	if active == NoStage {
		return steps
	}
	for i := range steps {
		steps[i].Done = i < active || (i == active && i == StageFinal && isDone(o))
		steps[i].Active = i == active
	}
	return steps
}

func isDone(o models.Order) bool {
	return o.Status == models.OrderDelivered || o.Status == models.OrderPaid
}
