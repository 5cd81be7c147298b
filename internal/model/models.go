package model

import (
	"time"
)

// Base model fields shared by all models
type Base struct {
	UUID      string    `json:"uuid" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BagKind defines the kind of a bag
type BagKind string

const (
	// ParentBag is an aggregator bag holding child bags
	ParentBag BagKind = "parent"
	// ChildBag is a unit bag linkable to one parent at a time
	ChildBag BagKind = "child"
)

// Bag represents a physical bag identified by its QR code.
// The QR code is unique across both kinds and immutable once assigned.
type Bag struct {
	Base
	QRCode    string  `json:"qr_code" gorm:"column:qr_code;uniqueIndex"`
	Kind      BagKind `json:"kind" gorm:"column:kind"`
	CreatedBy string  `json:"created_by" gorm:"column:created_by"`
}

// Link represents an active "child belongs to parent" relationship.
// The unique index on child_bag_id enforces at most one active link per
// child at the data layer; unlink deletes the row, so "no active link"
// is a query result rather than a null check.
type Link struct {
	Base
	ChildBagID  string `json:"child_bag_id" gorm:"column:child_bag_id;type:uuid;uniqueIndex"`
	ChildBag    *Bag   `json:"-" gorm:"foreignKey:ChildBagID"`
	ParentBagID string `json:"parent_bag_id" gorm:"column:parent_bag_id;type:uuid;index"`
	ParentBag   *Bag   `json:"-" gorm:"foreignKey:ParentBagID"`
	CreatedBy   string `json:"created_by" gorm:"column:created_by"`
}

// BillStatus defines the status of a bill
type BillStatus string

const (
	// BillStatusOpen represents a bill accepting parent bags
	BillStatusOpen BillStatus = "open"
	// BillStatusClosed represents a finalized bill
	BillStatusClosed BillStatus = "closed"
)

// Bill is a dispatch unit aggregating parent bags. The count and weight
// fields are derived: they are recomputed from the Link and BillBag tables
// inside the same transaction as every mutation that affects them, and
// freeze at their last computed value once the bill is closed.
type Bill struct {
	Base
	Number         string     `json:"number" gorm:"column:number;uniqueIndex"`
	TargetBagCount int        `json:"target_bag_count" gorm:"column:target_bag_count"`
	Status         BillStatus `json:"status" gorm:"column:status"`
	CreatedBy      string     `json:"created_by" gorm:"column:created_by"`
	ClosedAt       *time.Time `json:"closed_at"`

	LinkedBagCount int     `json:"linked_bag_count" gorm:"column:linked_bag_count"`
	ChildBagCount  int     `json:"child_bag_count" gorm:"column:child_bag_count"`
	ActualWeight   float64 `json:"actual_weight" gorm:"column:actual_weight"`
	ExpectedWeight float64 `json:"expected_weight" gorm:"column:expected_weight"`
}

// BillBag associates a parent bag with a bill. Closed bills keep their
// rows, so "on at most one open bill" is enforced by a locked query
// against open bills rather than a unique index on bag_id.
type BillBag struct {
	Base
	BillID string `json:"bill_id" gorm:"column:bill_id;type:uuid;uniqueIndex:idx_bill_bag"`
	Bill   *Bill  `json:"-" gorm:"foreignKey:BillID"`
	BagID  string `json:"bag_id" gorm:"column:bag_id;type:uuid;uniqueIndex:idx_bill_bag"`
	Bag    *Bag   `json:"-" gorm:"foreignKey:BagID"`
}

// MutationAction defines the action recorded in a mutation record
type MutationAction string

const (
	// LinkAction records a successful child-to-parent link
	LinkAction MutationAction = "link"
	// UnlinkAction records a removed link
	UnlinkAction MutationAction = "unlink"
	// AttachAction records a parent bag attached to a bill
	AttachAction MutationAction = "attach"
	// DetachAction records a parent bag detached from a bill
	DetachAction MutationAction = "detach"
)

// MutationRecord is the append-only history entry written in the same
// transaction as every successful mutation. The undo window reads it back,
// and the audit publisher drains unpublished rows to the message bus.
type MutationRecord struct {
	Base
	Actor      string         `json:"actor" gorm:"column:actor;index"`
	Action     MutationAction `json:"action" gorm:"column:action"`
	ChildQR    string         `json:"child_qr" gorm:"column:child_qr"`
	ParentQR   string         `json:"parent_qr" gorm:"column:parent_qr"`
	BillNumber string         `json:"bill_number" gorm:"column:bill_number"`
	Detail     []byte         `json:"detail" gorm:"type:jsonb"`
	Undone     bool           `json:"undone" gorm:"column:undone"`
	UndoneAt   *time.Time     `json:"undone_at"`
	Published  bool           `json:"published" gorm:"column:published;index"`
}

// StatisticsCache is the single materialized row of aggregate counts read
// by dashboards. It is fully derived, so any instance may refresh it.
type StatisticsCache struct {
	ID          uint      `json:"-" gorm:"primaryKey"`
	TotalBags   int64     `json:"total_bags"`
	ParentBags  int64     `json:"parent_bags"`
	ChildBags   int64     `json:"child_bags"`
	TotalBills  int64     `json:"total_bills"`
	OpenBills   int64     `json:"open_bills"`
	RecentScans int64     `json:"recent_scans"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// StatisticsCacheID is the fixed primary key of the statistics row.
const StatisticsCacheID uint = 1

// KindFromString converts a string to a BagKind
func KindFromString(kind string) BagKind {
	switch kind {
	case "parent":
		return ParentBag
	case "child":
		return ChildBag
	default:
		return ""
	}
}

// String returns a string representation of BagKind
func (k BagKind) String() string {
	return string(k)
}

// Open reports whether the bill still accepts mutations
func (b *Bill) Open() bool {
	return b.Status == BillStatusOpen
}
