// Package health turns provider events into derived health scores. It classifies each
// payload, computes bounded 0-100 scores, persists the raw record and raises alerts.
package health

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tidwall/gjson"
)

// DataKind is the category an event is routed by.
type DataKind string

const (
	KindHealthSnapshot DataKind = "health_snapshot"
	KindActivity       DataKind = "activity"
	KindSleep          DataKind = "sleep"
	KindStress         DataKind = "stress"
	KindGeneric        DataKind = "generic"
)

var (
	sleepFields    = []string{"sleepTimeInSeconds", "sleepDurationInSeconds"}
	activityFields = []string{"activityId", "activityType"}
	snapshotFields = []string{"bodyBattery", "bodyBatteryLevel", "currentBodyBattery", "energyLevel", "snapshotId"}
	stressFields   = []string{"averageStressLevel", "stressLevel", "maxStressLevel"}

	userIDPaths   = []string{"userId", "user_id", "externalUserId", "ownerId", "user.id"}
	recordIDPaths = []string{"summaryId", "activityId", "snapshotId", "id"}

	// envelope keys used when the fields are ambiguous
	sourceKinds = map[string]DataKind{
		"sleeps":         KindSleep,
		"activities":     KindActivity,
		"stressdetails":  KindStress,
		"healthsnapshot": KindHealthSnapshot,
	}
)

// Classify picks the kind by the first matching field set: sleep, activity, snapshot,
// stress. Payloads matching none are Generic.
func Classify(payload []byte) DataKind {
	return ClassifyWithSource(payload, "")
}

// ClassifyWithSource is Classify with the envelope key as a fallback hint.
func ClassifyWithSource(payload []byte, source string) DataKind {
	switch {
	case hasAny(payload, sleepFields...),
		gjson.GetBytes(payload, "durationInSeconds").Exists() && gjson.GetBytes(payload, "sleepLevelsMap").Exists():
		return KindSleep
	case hasAny(payload, activityFields...):
		return KindActivity
	case hasAny(payload, snapshotFields...):
		return KindHealthSnapshot
	case hasAny(payload, stressFields...):
		return KindStress
	}
	if kind, ok := sourceKinds[strings.ToLower(strings.TrimSpace(source))]; ok {
		return kind
	}
	return KindGeneric
}

// ExtractUserID returns the first non-empty user identifier in precedence order.
func ExtractUserID(payload []byte) string {
	for _, path := range userIDPaths {
		if v := gjson.GetBytes(payload, path); v.Exists() && v.Type != gjson.JSON {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// RecordID returns the provider-assigned record id, or a content hash when there is
// none so that a re-delivered payload maps to the same record.
func RecordID(payload []byte) string {
	for _, path := range recordIDPaths {
		if v := gjson.GetBytes(payload, path); v.Exists() && v.Type != gjson.JSON {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	compacted := compact(payload)
	sum := sha256.Sum256(compacted)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func compact(payload []byte) []byte {
	return []byte(gjson.GetBytes(payload, "@ugly").Raw)
}

func hasAny(payload []byte, fields ...string) bool {
	for _, f := range fields {
		if gjson.GetBytes(payload, f).Exists() {
			return true
		}
	}
	return false
}

// firstNumber returns the first numeric value among paths.
func firstNumber(payload []byte, paths ...string) (float64, bool) {
	for _, p := range paths {
		v := gjson.GetBytes(payload, p)
		if !v.Exists() {
			continue
		}
		switch v.Type {
		case gjson.Number:
			return v.Float(), true
		case gjson.String:
			if n := gjson.Parse(strings.TrimSpace(v.Str)); n.Type == gjson.Number {
				return n.Float(), true
			}
		}
	}
	return 0, false
}
