package checkout

import (
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/registry"
	"github.com/go-durable/durable/worker"
	"github.com/go-durable/durable/workflow"
)

const (
	WorkflowName = "checkout"

	// PaymentTopic receives the payment status of the order, "paid" completes the checkout
	PaymentTopic = "payment_status"

	PaymentURLEvent  = "payment_url"
	OrderStatusEvent = "order_status"

	StatusPaid      = "paid"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
)

// Register registers the checkout workflow under WorkflowName.
func (s *Shop) Register(w *worker.Worker) error {
	return w.RegisterWorkflow(s.Checkout, registry.WithName(WorkflowName))
}

// Checkout reserves the inventory of the order, opens a payment session and waits for the payment.
// Paid orders are fulfilled, otherwise the reservation is released. Returns the final order status.
func (s *Shop) Checkout(ctx workflow.Context, order Order) (string, error) {
	logger := workflow.Logger(ctx)

	if _, err := workflow.ExecuteTransaction[any](ctx, workflow.StepOptions{Name: "reserveInventory"}, s.ReserveInventory, order); err != nil {
		return "", err
	}

	sessionID, err := workflow.ExecuteTransaction[string](ctx, workflow.StepOptions{Name: "createPaymentSession"}, s.CreatePaymentSession, order)
	if err != nil {
		return "", err
	}

	if err := workflow.SetEvent(ctx, PaymentURLEvent, s.PaymentURL+sessionID); err != nil {
		return "", err
	}

	status, ok, err := workflow.Recv[string](ctx, PaymentTopic, s.PaymentTimeout)
	if err != nil {
		return "", err
	}

	if !ok || status != StatusPaid {
		logger.Info("Payment not completed, releasing inventory", log.InstanceIDKey, ctx.WorkflowID(), "timed_out", !ok, "payment_status", status)

		if _, err := workflow.ExecuteTransaction[any](ctx, workflow.StepOptions{Name: "undoReservation"}, s.UndoReservation, order); err != nil {
			return "", err
		}

		return StatusCancelled, workflow.SetEvent(ctx, OrderStatusEvent, StatusCancelled)
	}

	if _, err := workflow.ExecuteTransaction[any](ctx, workflow.StepOptions{Name: "fulfillOrder"}, s.FulfillOrder, order); err != nil {
		return "", err
	}

	return StatusFulfilled, workflow.SetEvent(ctx, OrderStatusEvent, StatusFulfilled)
}
