package dedup

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// Change is one field rewritten by an upgrade.
type Change struct {
	Field    string
	OldValue string
	NewValue string
}

// Upgrade re-sources existing from a higher fidelity record. It rewrites the
// descriptive fields in place and returns one Change per field whose value
// actually changed. Identity fields (date, amount, type) are equal by
// construction and left alone. Category assignment is not touched here.
func Upgrade(existing, incoming *domain.Transaction, fingerprint string) []Change {
	var changes []Change
	set := func(field, from, to string, apply func()) {
		if from == to {
			return
		}
		changes = append(changes, Change{Field: field, OldValue: from, NewValue: to})
		apply()
	}

	set("original_description", existing.OriginalDescription, incoming.OriginalDescription, func() {
		existing.OriginalDescription = incoming.OriginalDescription
	})
	set("cleaned_description", existing.CleanedDescription, incoming.CleanedDescription, func() {
		existing.CleanedDescription = incoming.CleanedDescription
	})
	set("match_key", existing.MatchKey, incoming.MatchKey, func() {
		existing.MatchKey = incoming.MatchKey
	})
	set("fingerprint", existing.Fingerprint, fingerprint, func() {
		existing.Fingerprint = fingerprint
	})
	set("merchant_hints", strings.Join(existing.MerchantHints, ","), strings.Join(incoming.MerchantHints, ","), func() {
		existing.MerchantHints = append([]string(nil), incoming.MerchantHints...)
	})
	if incoming.ExternalID != "" {
		set("external_id", existing.ExternalID, incoming.ExternalID, func() {
			existing.ExternalID = incoming.ExternalID
		})
	}
	if incoming.PostedDate != nil {
		old := ""
		if existing.PostedDate != nil {
			old = existing.PostedDate.String()
		}
		set("posted_date", old, incoming.PostedDate.String(), func() {
			d := *incoming.PostedDate
			existing.PostedDate = &d
		})
	}
	set("metadata", jsonText(existing.Metadata), jsonText(incoming.Metadata), func() {
		existing.Metadata = incoming.Metadata
	})
	set("source_type", string(existing.SourceType), string(incoming.SourceType), func() {
		existing.SourceType = incoming.SourceType
	})
	set("source_file_id", itoa(existing.SourceFileID), itoa(incoming.SourceFileID), func() {
		existing.SourceFileID = incoming.SourceFileID
	})
	set("fidelity_rank", itoa(int64(existing.FidelityRank)), itoa(int64(incoming.FidelityRank)), func() {
		existing.FidelityRank = incoming.FidelityRank
	})
	return changes
}

func jsonText(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys, so equal maps encode identically.
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
