// Package orders is a small order aggregate that raises outbox events.
// It is used by the relay command and by the storage adapters' tests.
package orders

import (
	"errors"
	"time"

	outbox "github.com/velmie/txoutbox"
)

const (
	StatusCreated   = "created"
	StatusCancelled = "cancelled"
)

var (
	ErrOrderIDRequired  = errors.New("orders: id is required")
	ErrAlreadyCancelled = errors.New("orders: order already cancelled")
)

// Order is the aggregate root.
type Order struct {
	outbox.Recorder `gorm:"-"`

	ID        string `gorm:"primaryKey;size:64"`
	Customer  string `gorm:"size:128"`
	Status    string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderCreated is raised when an order is placed.
type OrderCreated struct {
	OrderID  string `json:"orderId"`
	Customer string `json:"customer,omitempty"`
}

func (OrderCreated) EventType() string { return "OrderCreated" }

// OrderCancelled is raised when an order is cancelled.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

func (OrderCancelled) EventType() string { return "OrderCancelled" }

// New places an order and raises OrderCreated.
func New(id, customer string) (*Order, error) {
	if id == "" {
		return nil, ErrOrderIDRequired
	}
	order := &Order{ID: id, Customer: customer, Status: StatusCreated}
	order.Raise(OrderCreated{OrderID: id, Customer: customer})

	return order, nil
}

// Cancel cancels the order and raises OrderCancelled.
func (o *Order) Cancel(reason string) error {
	if o.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	o.Status = StatusCancelled
	o.Raise(OrderCancelled{OrderID: o.ID, Reason: reason})

	return nil
}

// RegisterEvents binds the order events to reg.
func RegisterEvents(reg *outbox.Registry) error {
	return errors.Join(
		outbox.Register[OrderCreated](reg),
		outbox.Register[OrderCancelled](reg),
	)
}
