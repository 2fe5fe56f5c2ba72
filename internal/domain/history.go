package domain

import "time"

// TransformationType classifies an entry in the transformation history.
type TransformationType string

const (
	TransformNormalize     TransformationType = "normalize"
	TransformUpgrade       TransformationType = "dedup_upgrade"
	TransformMerchantMatch TransformationType = "merchant_match"
	TransformCategoryAuto  TransformationType = "categorize_auto"
	TransformCategoryUser  TransformationType = "categorize_manual"
	TransformTag           TransformationType = "tag"
	TransformReconcile     TransformationType = "reconcile"
)

// Trigger references used in history rows.
const (
	TriggerManual = "manual"
)

// TransformationHistory is one append-only mutation record.
type TransformationHistory struct {
	ID            int64
	TransactionID int64
	Field         string
	OldValue      string
	NewValue      string
	Type          TransformationType
	Trigger       string
	CreatedAt     time.Time
}
