package service

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/repository"
)

// maxQRLength bounds scanned identifiers; longer payloads are junk scans.
const maxQRLength = 64

// runInTx executes fn inside one database transaction with a bounded
// lock-wait timeout. Lock-timeout failures surface as ErrBusy so the
// scanning UI can retry; everything else rolls back untouched.
func runInTx(ctx context.Context, db *gorm.DB, lockTimeout time.Duration, fn func(tx *gorm.DB) error) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.ApplyLockTimeout(tx, lockTimeout); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil && repository.IsLockTimeout(err) {
		return ErrBusy
	}
	return err
}

// normalizeQR trims scanner padding and rejects malformed QR codes before
// any lock is taken. Every lookup, lock and stored row uses the returned
// canonical form.
func normalizeQR(qr string) (string, error) {
	qr = strings.TrimSpace(qr)
	if qr == "" || len(qr) > maxQRLength {
		return "", ErrInvalidQR
	}
	return qr, nil
}

// validateActor rejects requests without an operator identity
func validateActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrInvalidActor
	}
	return nil
}
