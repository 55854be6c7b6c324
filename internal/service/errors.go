package service

import "errors"

// Sentinel errors surfaced at the request boundary. All of them are
// recoverable; the API layer maps them to 4xx responses.
var (
	// ErrStockInsufficient is returned when a reservation would drive a
	// stock counter below zero.
	ErrStockInsufficient = errors.New("insufficient stock")

	// ErrNoOpQuantityChange is returned when a quantity edit equals the
	// line's current quantity.
	ErrNoOpQuantityChange = errors.New("quantity unchanged")

	// ErrInvalidTransition is returned for status changes the state machine
	// does not permit, such as cancelling a dispatched order.
	ErrInvalidTransition = errors.New("order status does not permit this action")

	// ErrEmptyOrder is returned when placing an order with no lines.
	ErrEmptyOrder = errors.New("order has no lines")

	// ErrNoAddress is returned when placing an order without a shipping
	// address.
	ErrNoAddress = errors.New("order has no shipping address")

	// ErrPaymentFailed is returned when the payment capability declines the
	// charge. The order and its reservations are left untouched.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrNotFound covers both missing entities and entities owned by another
	// user; the two are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser is returned on a unique violation for the email
	// address.
	ErrDuplicateUser = errors.New("user with that email address already exists")

	// ErrInvalidVariant is returned when a variant is applied to a product
	// category outside its family.
	ErrInvalidVariant = errors.New("variant not valid for product category")

	// ErrAddressInUse is returned when deleting an address still referenced
	// by a placed or dispatched order.
	ErrAddressInUse = errors.New("address is attached to an active order")

	// ErrNoReportData is returned when a report query matches no rows.
	ErrNoReportData = errors.New("no data in the requested range")
)
