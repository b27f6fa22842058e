package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the fire-and-forget metrics collaborator used by the
// aggregation core. Counter registration errors are ignored and Add never
// fails, so recording can never throw back into the caller.
type Recorder struct {
	syncSuccess     metric.Int64Counter
	syncFailure     metric.Int64Counter
	importedRecords metric.Int64Counter
	consentCreated  metric.Int64Counter
	consentRevoked  metric.Int64Counter
}

// NewRecorder registers the aggregation counters on the global meter.
func NewRecorder() *Recorder {
	meter := otel.Meter("finlink/openfinance")

	syncSuccess, _ := meter.Int64Counter("openfinance.sync.success",
		metric.WithDescription("Completed account synchronizations"))
	syncFailure, _ := meter.Int64Counter("openfinance.sync.failure",
		metric.WithDescription("Failed account synchronizations"))
	importedRecords, _ := meter.Int64Counter("openfinance.sync.imported_records",
		metric.WithDescription("Ledger entries created from remote transactions"))
	consentCreated, _ := meter.Int64Counter("openfinance.consent.created",
		metric.WithDescription("Consents initiated"))
	consentRevoked, _ := meter.Int64Counter("openfinance.consent.revoked",
		metric.WithDescription("Consents revoked"))

	return &Recorder{
		syncSuccess:     syncSuccess,
		syncFailure:     syncFailure,
		importedRecords: importedRecords,
		consentCreated:  consentCreated,
		consentRevoked:  consentRevoked,
	}
}

func (r *Recorder) RecordSyncSuccess(ctx context.Context)    { r.syncSuccess.Add(ctx, 1) }
func (r *Recorder) RecordSyncFailure(ctx context.Context)    { r.syncFailure.Add(ctx, 1) }
func (r *Recorder) RecordImportedRecord(ctx context.Context) { r.importedRecords.Add(ctx, 1) }
func (r *Recorder) RecordConsentCreated(ctx context.Context) { r.consentCreated.Add(ctx, 1) }
func (r *Recorder) RecordConsentRevoked(ctx context.Context) { r.consentRevoked.Add(ctx, 1) }
