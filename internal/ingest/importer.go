package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"energy-service/internal/models"
	"energy-service/internal/store"
)

const importSuccessMessage = "Measurements imported successfully"

// Journal receives every measurement that was persisted through the Importer.
type Journal interface {
	Record(ctx context.Context, m models.Measurement) error
}

type Result struct {
	BatchID  string `json:"batchId"`
	Imported int    `json:"imported"`
	Message  string `json:"message"`
}

// Importer writes measurements one at a time. A batch stops at the first
// failing record; records written before it stay written.
type Importer struct {
	store   store.Store
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

// NewImporter builds an Importer. journal may be nil.
func NewImporter(st store.Store, journal Journal, logger *zap.Logger) *Importer {
	return &Importer{
		store:   st,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

// Save persists one measurement and records it in the journal. Journal
// failures are logged and do not fail the write.
func (im *Importer) Save(ctx context.Context, m models.Measurement) (models.Measurement, error) {
	saved, err := im.store.Create(ctx, m)
	if err != nil {
		return models.Measurement{}, err
	}
	measurementsWritten.Inc()

	if im.journal != nil {
		if err := im.journal.Record(ctx, saved); err != nil {
			im.logger.Warn("failed to journal measurement", zap.Int64("id", saved.ID), zap.Error(err))
		}
	}
	return saved, nil
}

// ImportOne decodes and saves a single raw record.
func (im *Importer) ImportOne(ctx context.Context, rec Record) (models.Measurement, error) {
	m, err := Decode(rec, im.now())
	if err != nil {
		return models.Measurement{}, err
	}
	return im.Save(ctx, m)
}

// Import writes recs in order. The returned message is either the success
// text or the error text of the first failing record.
func (im *Importer) Import(ctx context.Context, recs []Record) Result {
	res := Result{BatchID: uuid.NewString()}
	log := im.logger.With(zap.String("batch_id", res.BatchID))

	for i, rec := range recs {
		if _, err := im.ImportOne(ctx, rec); err != nil {
			importFailures.Inc()
			log.Warn("import stopped", zap.Int("index", i), zap.Int("imported", res.Imported), zap.Error(err))
			res.Message = err.Error()
			return res
		}
		res.Imported++
	}

	log.Info("import finished", zap.Int("imported", res.Imported))
	res.Message = importSuccessMessage
	return res
}

// ImportJSON reads a JSON array of records from r and imports it. A body that
// is not a JSON array is reported through the result message.
func (im *Importer) ImportJSON(ctx context.Context, r io.Reader) Result {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		importFailures.Inc()
		return Result{BatchID: uuid.NewString(), Message: fmt.Sprintf("invalid import file: %v", err)}
	}
	return im.Import(ctx, recs)
}
