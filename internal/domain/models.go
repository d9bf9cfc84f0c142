package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry. Items are unique by name; stock is tracked either
// in batches (item_batches) or, for un-migrated items, as a flat quantity on
// a legacy inventory_items row.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Supplier     string    `json:"supplier"`
	ReorderLevel int       `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Name         string `json:"name" validate:"required"`
	Category     string `json:"category"`
	Supplier     string `json:"supplier"`
	ReorderLevel int    `json:"reorder_level" validate:"gte=0"`
}

// Batch is one dated lot of stock for an item. A nil ExpiryDate means the
// batch never expires. QtyOnHand never goes below zero.
type Batch struct {
	ID            string          `json:"id"`
	ItemID        string          `json:"item_id"`
	BatchNo       string          `json:"batch_no"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	QtyOnHand     int             `json:"qty_on_hand"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	Location      string          `json:"location"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// BatchTake is one step of an allocation plan: consume Qty units from the
// batch identified by BatchID.
type BatchTake struct {
	BatchID string `json:"batch_id"`
	Qty     int    `json:"qty"`
}

// ReceiveBatchRequest records a goods receipt: a new batch plus its GRN
// movement. Either ItemID or ItemName selects the owning item.
type ReceiveBatchRequest struct {
	ItemID        string          `json:"item_id,omitempty"`
	ItemName      string          `json:"item_name,omitempty"`
	BatchNo       string          `json:"batch_no"`
	ExpiryDate    string          `json:"expiry_date,omitempty"` // ISO yyyy-mm-dd
	Qty           int             `json:"qty" validate:"required,gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	Location      string          `json:"location"`
}

type AdjustBatchRequest struct {
	BatchID string `json:"batch_id" validate:"required"`
	Delta   int    `json:"delta" validate:"required"`
	Reason  string `json:"reason"`
}

type ReturnRequest struct {
	BatchID string `json:"batch_id" validate:"required"`
	SaleID  string `json:"sale_id" validate:"required"`
	Qty     int    `json:"qty" validate:"required,gt=0"`
}

// Movement kinds. Movements are append-only: every quantity change to a batch
// is recorded exactly once and never updated or deleted afterwards.
const (
	MovementSale   = "SALE"
	MovementGRN    = "GRN"
	MovementAdjust = "ADJUST"
	MovementReturn = "RETURN"
)

// Movement reference types, linking a movement back to the record that
// caused it.
const (
	RefTypeSale  = "sale"
	RefTypeBatch = "batch"
)

type Movement struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	Qty       int       `json:"qty"` // signed delta; negative for a sale
	Kind      string    `json:"movement_type"`
	RefType   string    `json:"ref_type"`
	RefID     string    `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Sale is the immutable checkout header. Lines snapshot item name and unit
// price at sale time; later catalog price changes never alter them.
type Sale struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	SaleDate    time.Time       `json:"sale_date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Lines       []SaleLine      `json:"lines"`
}

type SaleLine struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ItemName  string          `json:"item_name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartItem is a pre-commit sale line. It has no persisted identity until
// checkout writes the Sale and SaleLine rows.
type CartItem struct {
	ItemName  string          `json:"item_name" validate:"required"`
	Qty       int             `json:"qty" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CheckoutRequest struct {
	Customer    string          `json:"customer"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	Cart        []CartItem      `json:"cart" validate:"required,min=1,dive"`
}

type SaleReceipt struct {
	Sale `json:"sale"`
}

// Stock sources. An item's stock is resolved to exactly one representation
// per lookup; batch and flat quantities are never blended for one item.
const (
	StockBatched = "batched"
	StockFlat    = "flat"
	StockNone    = "none"
)

// ItemStock is the tagged stock variant for one item: Batched carries the
// item's batches, Flat carries the legacy inventory_items quantity, None
// means the name is unknown to both tables.
type ItemStock struct {
	ItemName string  `json:"item_name"`
	Source   string  `json:"source"`
	Batches  []Batch `json:"batches,omitempty"`
	FlatQty  int     `json:"flat_qty,omitempty"`
}

// LegacyItem is an un-migrated inventory_items row. Its Expiry is carried for
// display but does not gate availability (see allocation.Available).
type LegacyItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Expiry   *time.Time      `json:"expiry,omitempty"`
}

type AvailabilityResponse struct {
	ItemName  string `json:"item_name"`
	Available int    `json:"available"`
	Source    string `json:"source"`
}

// LowStockEntry reports an item at or below its reorder level, whichever
// stock representation it uses.
type LowStockEntry struct {
	ItemName     string `json:"item_name"`
	QtyOnHand    int    `json:"qty_on_hand"`
	ReorderLevel int    `json:"reorder_level"`
	Source       string `json:"source"`
}

type ExpiringBatch struct {
	BatchID    string    `json:"batch_id"`
	ItemName   string    `json:"item_name"`
	BatchNo    string    `json:"batch_no"`
	ExpiryDate time.Time `json:"expiry_date"`
	QtyOnHand  int       `json:"qty_on_hand"`
}

// Dashboard metrics are read-only projections; none of these block
// concurrent checkouts.
type DailySalesPoint struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
}

type CategoryStock struct {
	Category string `json:"category"`
	Qty      int    `json:"qty"`
}

type RecentSaleLine struct {
	SaleID    string          `json:"sale_id"`
	ItemName  string          `json:"item_name"`
	Qty       int             `json:"qty"`
	LineTotal decimal.Decimal `json:"line_total"`
	SaleDate  time.Time       `json:"sale_date"`
}

type DashboardMetrics struct {
	SalesToday    decimal.Decimal   `json:"sales_today"`
	SalesDeltaPct float64           `json:"sales_delta_pct"`
	UnitsInStock  int               `json:"units_in_stock"`
	LowStock      int               `json:"low_stock"`
	ExpiringSoon  int               `json:"expiring_soon"`
	WeeklySales   []DailySalesPoint `json:"weekly_sales"`
	StockByCat    []CategoryStock   `json:"stock_by_category"`
	RecentSales   []RecentSaleLine  `json:"recent_sales"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin cashier"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
