package store

import (
	"context"

	"github.com/router-for-me/wearsync/internal/health"
	log "github.com/sirupsen/logrus"
)

// MirroredRecords saves to a primary store and copies each record to the
// archives. Only a primary failure is returned; archive failures are logged.
type MirroredRecords struct {
	Primary  health.RecordStore
	Archives []NamedRecordStore
}

// NamedRecordStore labels an archive for logging.
type NamedRecordStore struct {
	Name  string
	Store health.RecordStore
}

func (m *MirroredRecords) Save(ctx context.Context, record health.Record) error {
	if err := m.Primary.Save(ctx, record); err != nil {
		return err
	}
	for _, archive := range m.Archives {
		if err := archive.Store.Save(ctx, record); err != nil {
			log.WithFields(log.Fields{
				"item_id": record.ItemID,
				"user_id": record.UserID,
			}).WithError(err).Warnf("record archive %s failed", archive.Name)
		}
	}
	return nil
}
