package models

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned for any status move not listed in a table.
var ErrInvalidTransition = errors.New("invalid status transition")

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:         {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPaid:            {PaymentStatusPartialRefunded, PaymentStatusRefunded, PaymentStatusDisputed},
	PaymentStatusPartialRefunded: {PaymentStatusPartialRefunded, PaymentStatusRefunded, PaymentStatusDisputed},
	PaymentStatusDisputed:        {PaymentStatusPaid, PaymentStatusPartialRefunded, PaymentStatusRefunded},
	PaymentStatusFailed:          {PaymentStatusPaid},
	PaymentStatusRefunded:        {},
	PaymentStatusCancelled:       {},
}

var itemTransitions = map[SettlementItemStatus][]SettlementItemStatus{
	ItemStatusPending:    {ItemStatusProcessing, ItemStatusBlocked},
	ItemStatusProcessing: {ItemStatusCompleted, ItemStatusFailed},
	ItemStatusFailed:     {ItemStatusProcessing, ItemStatusBlocked},
	ItemStatusCompleted:  {},
	ItemStatusBlocked:    {},
	ItemStatusSkipped:    {},
	ItemStatusDryRun:     {},
}

var batchTransitions = map[SettlementBatchStatus][]SettlementBatchStatus{
	BatchStatusPending:       {BatchStatusCompleted, BatchStatusPartialFailed, BatchStatusFailed, BatchStatusBlocked},
	BatchStatusPartialFailed: {BatchStatusPending, BatchStatusCompleted, BatchStatusBlocked},
	BatchStatusFailed:        {BatchStatusPending, BatchStatusCompleted, BatchStatusPartialFailed, BatchStatusBlocked},
	BatchStatusCompleted:     {},
	BatchStatusBlocked:       {},
	BatchStatusDryRun:        {},
}

var eventTransitions = map[GatewayEventStatus][]GatewayEventStatus{
	GatewayEventReceived:   {GatewayEventProcessing},
	GatewayEventProcessing: {GatewayEventProcessed, GatewayEventFailed},
	GatewayEventFailed:     {GatewayEventProcessing},
	GatewayEventProcessed:  {},
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func CheckPaymentTransition(from, to PaymentStatus) error {
	if !contains(paymentTransitions[from], to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func CheckItemTransition(from, to SettlementItemStatus) error {
	if !contains(itemTransitions[from], to) {
		return fmt.Errorf("%w: settlement item %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func CheckBatchTransition(from, to SettlementBatchStatus) error {
	if from == to && (from == BatchStatusPending || from == BatchStatusPartialFailed || from == BatchStatusFailed) {
		return nil
	}
	if !contains(batchTransitions[from], to) {
		return fmt.Errorf("%w: settlement batch %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func CheckEventTransition(from, to GatewayEventStatus) error {
	if !contains(eventTransitions[from], to) {
		return fmt.Errorf("%w: gateway event %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ItemStatusesInto lists the statuses an item may move to `to` from.
// Every item update uses it as its status predicate.
func ItemStatusesInto(to SettlementItemStatus) []SettlementItemStatus {
	var out []SettlementItemStatus
	for from := range itemTransitions {
		if CheckItemTransition(from, to) == nil {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// EventStatusesInto lists the statuses an event may move to `to` from.
func EventStatusesInto(to GatewayEventStatus) []GatewayEventStatus {
	var out []GatewayEventStatus
	for from := range eventTransitions {
		if CheckEventTransition(from, to) == nil {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// ItemClaimableFrom lists the statuses a settlement item can be claimed from.
func ItemClaimableFrom() []SettlementItemStatus {
	return ItemStatusesInto(ItemStatusProcessing)
}

// EventClaimableFrom lists the statuses a gateway event can be claimed from.
func EventClaimableFrom() []GatewayEventStatus {
	return EventStatusesInto(GatewayEventProcessing)
}
