package sink

import (
	"context"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// RecordStore is the subset of storage used for archiving
type RecordStore interface {
	SaveRecord(ctx context.Context, record *models.OutputRecord) error
}

// DatabaseSink archives records in the watcher's own database
type DatabaseSink struct {
	store RecordStore
}

// NewDatabaseSink creates a database sink
func NewDatabaseSink(store RecordStore) *DatabaseSink {
	return &DatabaseSink{store: store}
}

// Name implements Sink
func (d *DatabaseSink) Name() string { return "database" }

// Send implements Sink
func (d *DatabaseSink) Send(ctx context.Context, record *models.OutputRecord) error {
	if err := d.store.SaveRecord(ctx, record); err != nil {
		return deliveryError(d.Name(), err)
	}
	return nil
}

// Close implements Sink. The store is owned by the caller.
func (d *DatabaseSink) Close() error { return nil }
