package domain

// Типы событий счёта, записываемые в outbox и timeline.
const (
	EventBillRequested = "bill.requested"
	EventBillUpdated   = "bill.updated"
	EventBillApproved  = "bill.approved"
	EventBillRejected  = "bill.rejected"
	EventBillConfirmed = "bill.confirmed"
	EventBillCancelled = "bill.cancelled"
	EventBillDisabled  = "bill.disabled"
)

// AggregateTypeBill задаёт тип агрегата outbox для событий счёта.
const AggregateTypeBill = "bill"
