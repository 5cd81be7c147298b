package service

import (
	"example.com/depot/services/bagtrack/internal/model"
)

// LinkResult is the outcome of a successful (or idempotent) link scan
type LinkResult struct {
	Link          *model.Link `json:"link"`
	Parent        *model.Bag  `json:"parent"`
	Child         *model.Bag  `json:"child"`
	AlreadyLinked bool        `json:"already_linked"`
}

// UnlinkResult is the outcome of an unlink scan. Unlinked is false when the
// child had no active link, which is a no-op rather than an error.
type UnlinkResult struct {
	Unlinked bool        `json:"unlinked"`
	Link     *model.Link `json:"link,omitempty"`
}

// AttachResult is the outcome of attaching a parent bag to a bill
type AttachResult struct {
	Bill            *model.Bill `json:"bill"`
	AlreadyAttached bool        `json:"already_attached"`
}

// DetachResult is the outcome of detaching a parent bag from a bill.
// Detached is false when the bag was not attached.
type DetachResult struct {
	Bill     *model.Bill `json:"bill"`
	Detached bool        `json:"detached"`
}

// UndoResult is the outcome of reversing an actor's most recent link
type UndoResult struct {
	Record *model.MutationRecord `json:"record"`
}

// linkDetail is the before/after payload stored on link-action history
// entries and consumed by the undo window to verify reversibility.
type linkDetail struct {
	LinkID          string `json:"link_id"`
	ParentBagID     string `json:"parent_bag_id"`
	ChildBagID      string `json:"child_bag_id"`
	ParentCountPrev int64  `json:"parent_count_prev"`
	ParentCountNext int64  `json:"parent_count_next"`
	UndoOf          string `json:"undo_of,omitempty"`
}

// billDetail is the payload stored on attach/detach history entries
type billDetail struct {
	BillID       string `json:"bill_id"`
	BagID        string `json:"bag_id"`
	BagCountPrev int    `json:"bag_count_prev"`
	BagCountNext int    `json:"bag_count_next"`
}
