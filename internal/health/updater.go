package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/sjson"
)

// metadataKey holds the annotations stamped into persisted payloads.
const metadataKey = "_wearsync"

// ProfileUpdater persists the raw record and applies score changes.
// Scores overwrite rather than accumulate, so applying the same delta twice is harmless.
type ProfileUpdater struct {
	records  RecordStore
	profiles ProfileStore
}

func NewProfileUpdater(records RecordStore, profiles ProfileStore) *ProfileUpdater {
	return &ProfileUpdater{records: records, profiles: profiles}
}

// Apply saves the record then updates the profile. Generic events only save the record.
func (u *ProfileUpdater) Apply(ctx context.Context, d Delta, payload []byte, source, itemID string, receivedAt time.Time) error {
	annotated, err := annotate(payload, d, source, receivedAt)
	if err != nil {
		annotated = payload
	}
	record := Record{
		ID:         d.RecordID,
		UserID:     d.UserID,
		Kind:       d.Kind,
		Source:     source,
		ItemID:     itemID,
		ReceivedAt: receivedAt,
		Payload:    json.RawMessage(annotated),
	}
	if u.records != nil {
		if err = u.records.Save(ctx, record); err != nil {
			return &TransientError{Op: "save record", Cause: err}
		}
	}
	if d.Kind == KindGeneric || d.Scores.Empty() || u.profiles == nil {
		return nil
	}
	if _, err = u.profiles.UpdateScores(ctx, d.UserID, d.Scores); err != nil {
		return &TransientError{Op: "update profile", Cause: err}
	}
	return nil
}

func annotate(payload []byte, d Delta, source string, receivedAt time.Time) ([]byte, error) {
	meta := map[string]any{
		"kind":       string(d.Kind),
		"userId":     d.UserID,
		"recordId":   d.RecordID,
		"receivedAt": receivedAt.UTC().Format(time.RFC3339),
	}
	if source != "" {
		meta["source"] = source
	}
	return sjson.SetBytes(payload, metadataKey, meta)
}
