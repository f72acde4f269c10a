package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// Actor is the authenticated caller as carried in the access token.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type DeliveryInput struct {
	PickupAddress  string
	DropoffAddress string
	PackageType    enums.PackageType
	SuggestedPrice decimal.Decimal
}

type CreateOrderInput struct {
	CompanyID  uuid.UUID
	City       string
	State      string
	TotalValue decimal.Decimal
	Deliveries []DeliveryInput
}

type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   Actor
}

// PendingFeedParams filters the driver feed; City and State are optional.
type PendingFeedParams struct {
	City   string
	State  string
	Limit  int
	Cursor string
}

// DeliveryDetail never carries code material.
type DeliveryDetail struct {
	ID                 uuid.UUID         `json:"id"`
	Position           int               `json:"position"`
	PickupAddress      string            `json:"pickupAddress"`
	DropoffAddress     string            `json:"dropoffAddress"`
	PackageType        enums.PackageType `json:"packageType"`
	SuggestedPrice     string            `json:"suggestedPrice"`
	CodeIssued         bool              `json:"codeIssued"`
	ValidationAttempts int               `json:"validationAttempts"`
	ValidatedAt        *time.Time        `json:"validatedAt,omitempty"`
}

type OrderDetail struct {
	ID                uuid.UUID         `json:"id"`
	CompanyUserID     uuid.UUID         `json:"companyUserId"`
	DriverUserID      *uuid.UUID        `json:"driverUserId,omitempty"`
	Status            enums.OrderStatus `json:"status"`
	TotalValue        string            `json:"totalValue"`
	Currency          string            `json:"currency"`
	City              string            `json:"city"`
	State             string            `json:"state"`
	CreatedAt         time.Time         `json:"createdAt"`
	AcceptedAt        *time.Time        `json:"acceptedAt,omitempty"`
	DriverCompletedAt *time.Time        `json:"driverCompletedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`
	CancelledBy       *uuid.UUID        `json:"cancelledBy,omitempty"`
	Deliveries        []DeliveryDetail  `json:"deliveries"`
}

type OrderSummary struct {
	ID            uuid.UUID `json:"id"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	TotalValue    string    `json:"totalValue"`
	Currency      string    `json:"currency"`
	DeliveryCount int       `json:"deliveryCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type PendingFeed struct {
	Items  []OrderSummary `json:"items"`
	Cursor string         `json:"cursor"`
}

func toDetail(order *models.Order) *OrderDetail {
	detail := &OrderDetail{
		ID:                order.ID,
		CompanyUserID:     order.CompanyUserID,
		DriverUserID:      order.DriverUserID,
		Status:            order.Status,
		TotalValue:        order.TotalValue.StringFixed(2),
		Currency:          order.Currency,
		City:              order.City,
		State:             order.State,
		CreatedAt:         order.CreatedAt,
		AcceptedAt:        order.AcceptedAt,
		DriverCompletedAt: order.DriverCompletedAt,
		CompletedAt:       order.CompletedAt,
		CancelledAt:       order.CancelledAt,
		CancelledBy:       order.CancelledBy,
		Deliveries:        make([]DeliveryDetail, 0, len(order.Deliveries)),
	}
	for _, d := range order.Deliveries {
		detail.Deliveries = append(detail.Deliveries, DeliveryDetail{
			ID:                 d.ID,
			Position:           d.Position,
			PickupAddress:      d.PickupAddress,
			DropoffAddress:     d.DropoffAddress,
			PackageType:        d.PackageType,
			SuggestedPrice:     d.SuggestedPrice.StringFixed(2),
			CodeIssued:         d.HasCode(),
			ValidationAttempts: d.ValidationAttempts,
			ValidatedAt:        d.ValidatedAt,
		})
	}
	return detail
}

func toSummary(order models.Order) OrderSummary {
	return OrderSummary{
		ID:            order.ID,
		City:          order.City,
		State:         order.State,
		TotalValue:    order.TotalValue.StringFixed(2),
		Currency:      order.Currency,
		DeliveryCount: len(order.Deliveries),
		CreatedAt:     order.CreatedAt,
	}
}
