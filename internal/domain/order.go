package domain

import "time"

// Role identifies who triggered an action.
type Role string

// Actor roles.
const (
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
	RoleCollaborator Role = "collaborator"
	RoleSystem       Role = "system"
)

// OrderStatus represents a stage in the import order pipeline.
type OrderStatus string

// Order lifecycle statuses, in pipeline order.
const (
	OrderStatusPendingQuote        OrderStatus = "pending_quote"
	OrderStatusQuoteSent           OrderStatus = "quote_sent"
	OrderStatusDepositPaid         OrderStatus = "deposit_paid"
	OrderStatusVehicleLocked       OrderStatus = "vehicle_locked"
	OrderStatusInspectionSent      OrderStatus = "inspection_sent"
	OrderStatusFullPaymentReceived OrderStatus = "full_payment_received"
	OrderStatusVehiclePurchased    OrderStatus = "vehicle_purchased"
	OrderStatusExportCustoms       OrderStatus = "export_customs"
	OrderStatusInTransit           OrderStatus = "in_transit"
	OrderStatusAtPort              OrderStatus = "at_port"
	OrderStatusShipping            OrderStatus = "shipping"
	OrderStatusDocumentsReady      OrderStatus = "documents_ready"
	OrderStatusCustoms             OrderStatus = "customs"
	OrderStatusReadyPickup         OrderStatus = "ready_pickup"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusCancelled           OrderStatus = "cancelled"
)

// StatusChangeRecord is one row in the business event log: a single
// order or quote status transition, recorded independently of whether
// the notification announcing it was ever delivered.
type StatusChangeRecord struct {
	ID                string         `json:"id"`
	OrderID           *string        `json:"order_id"`
	QuoteID           *string        `json:"quote_id"`
	OrderNumber       *string        `json:"order_number"`
	PreviousStatus    *string        `json:"previous_status"`
	NewStatus         string         `json:"new_status"`
	ChangedBy         *string        `json:"changed_by"`
	ChangedByEmail    *string        `json:"changed_by_email"`
	ChangedByRole     *Role          `json:"changed_by_role"`
	NotificationSent  bool           `json:"notification_sent"`
	NotificationJobID *string        `json:"notification_job_id"`
	Note              *string        `json:"note"`
	Metadata          map[string]any `json:"metadata"`
	IPAddress         *string        `json:"ip_address"`
	UserAgent         *string        `json:"user_agent"`
	CreatedAt         time.Time      `json:"created_at"`
}
