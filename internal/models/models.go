package models

import "time"

// User represents a storefront account. PasswordHash is a bcrypt hash and
// is never included in JSON responses or report rows.
type User struct {
	ID           int64     `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	EmailAddress string    `db:"email_address" json:"email_address"`
	PasswordHash string    `db:"password_hash" json:"-"`
	UserRole     string    `db:"user_role" json:"user_role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// User roles
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Product represents a catalog item. Stock is tracked per variant in
// stock_levels, not on the product row.
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Category    string    `db:"category" json:"category"`
	Name        string    `db:"name" json:"name"`
	Price       int64     `db:"price" json:"price"`
	Description string    `db:"description" json:"description"`
	ImagePath   *string   `db:"image_path" json:"image_path,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Product categories
const (
	CategoryTshirt = "tshirt"
	CategoryHat    = "hat"
	CategoryCD     = "cd"
)

// Stock variants. Tshirts carry small/medium/large counters, every other
// category carries a single one_size counter.
const (
	VariantSmall   = "small"
	VariantMedium  = "medium"
	VariantLarge   = "large"
	VariantOneSize = "one_size"
)

// VariantsFor returns the stock variants a product of the given category
// carries.
func VariantsFor(category string) []string {
	if category == CategoryTshirt {
		return []string{VariantSmall, VariantMedium, VariantLarge}
	}
	return []string{VariantOneSize}
}

// ValidVariant reports whether variant belongs to the given category's
// variant family. The tshirt and one_size families must never be
// cross-applied.
func ValidVariant(category, variant string) bool {
	for _, v := range VariantsFor(category) {
		if v == variant {
			return true
		}
	}
	return false
}

// StockLevel represents the available counter for one product variant.
type StockLevel struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Variant   string    `db:"variant" json:"variant"`
	Available int       `db:"available" json:"available"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order. An order with status "open" is the
// user's basket; at most one open order exists per user.
type Order struct {
	ID           int64      `db:"id" json:"id"`
	UserID       int64      `db:"user_id" json:"user_id"`
	AddressID    *int64     `db:"address_id" json:"address_id,omitempty"`
	ShippingID   int64      `db:"shipping_id" json:"shipping_id"`
	Status       string     `db:"status" json:"status"`
	PlacedOn     *time.Time `db:"placed_on" json:"placed_on,omitempty"`
	DispatchedOn *time.Time `db:"dispatched_on" json:"dispatched_on,omitempty"`
	CompletedOn  *time.Time `db:"completed_on" json:"completed_on,omitempty"`
	CancelledOn  *time.Time `db:"cancelled_on" json:"cancelled_on,omitempty"`
	Total        int64      `db:"total" json:"total"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusOpen       = "open"
	OrderStatusPlaced     = "placed"
	OrderStatusDispatched = "dispatched"
	OrderStatusComplete   = "complete"
	OrderStatusCancelled  = "cancelled"
)

// OrderLine represents one product variant in an order. UnitPrice is the
// product price at the moment the line was added.
type OrderLine struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Variant   string `db:"variant" json:"variant"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// AddressDetails represents a shipping address. At most one address per
// user has IsDefault set.
type AddressDetails struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	Line1     string `db:"line1" json:"line1"`
	Line2     string `db:"line2" json:"line2"`
	Town      string `db:"town" json:"town"`
	City      string `db:"city" json:"city"`
	Postcode  string `db:"postcode" json:"postcode"`
	IsDefault bool   `db:"is_default" json:"is_default"`
}

// ShippingOption is static reference data.
type ShippingOption struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Cost int64  `db:"cost" json:"cost"`
}

// UserReportRow is one row of the staff user export. Credentials are
// excluded at the query level.
type UserReportRow struct {
	ID           int64     `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	EmailAddress string    `db:"email_address"`
	UserRole     string    `db:"user_role"`
	CreatedAt    time.Time `db:"created_at"`
}

// OrderReportRow is one row of the staff order export: order fields joined
// with the user's email, the shipping address and the shipping option name.
type OrderReportRow struct {
	ID             int64      `db:"id"`
	UserEmail      string     `db:"user_email"`
	Status         string     `db:"status"`
	PlacedOn       *time.Time `db:"placed_on"`
	DispatchedOn   *time.Time `db:"dispatched_on"`
	CompletedOn    *time.Time `db:"completed_on"`
	Total          int64      `db:"total"`
	AddressLine1   string     `db:"address_line1"`
	AddressLine2   string     `db:"address_line2"`
	AddressCity    string     `db:"address_city"`
	AddressPost    string     `db:"address_postcode"`
	ShippingOption string     `db:"shipping_option"`
}
