package ledger

import "github.com/shopspring/decimal"

// allowedTransitions lists the manual status changes. PAID is absent as a
// target: only payment aggregation moves an order there.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusCreated: {
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusPreparing: true,
		StatusCancelled: true,
	},
	StatusPreparing: {
		StatusInTransit:      true,
		StatusReadyForPickup: true,
		StatusCancelled:      true,
	},
	StatusInTransit: {
		StatusDelivered: true,
	},
	StatusReadyForPickup: {
		StatusDelivered: true,
	},
	StatusDelivered: {
		StatusReturned: true,
	},
	StatusCancelled: {},
	StatusReturned:  {},
}

// CanTransition reports whether an operator may move an order from one
// status to another.
func CanTransition(from, to OrderStatus) bool {
	return allowedTransitions[from][to]
}

// AllowedTargets returns the manual targets of from in a stable order.
func AllowedTargets(from OrderStatus) []OrderStatus {
	order := []OrderStatus{
		StatusCreated, StatusPaid, StatusPreparing, StatusInTransit,
		StatusReadyForPickup, StatusDelivered, StatusCancelled, StatusReturned,
	}
	targets := make([]OrderStatus, 0)
	for _, s := range order {
		if allowedTransitions[from][s] {
			targets = append(targets, s)
		}
	}
	return targets
}

// shouldMarkPaid is the automatic rule applied after an approved payment.
// Orders already past CREATED keep their status.
func shouldMarkPaid(current OrderStatus, totalPaid, total decimal.Decimal) bool {
	return current == StatusCreated && totalPaid.GreaterThanOrEqual(total)
}
