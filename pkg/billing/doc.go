// Package billing is the subscription core of a multi-tenant clinic backend.
//
// It reconciles payment processor webhooks into per-tenant billing records,
// blocks repeat trials funded by the same payment instrument, and gates
// resource usage on the tenant's effective plan.
//
// # Components
//
//   - ResolveEffectivePlan: pure derivation of the tier a tenant is entitled to now.
//   - Ledger: first-writer-wins registry of payment fingerprints that funded a trial.
//   - Reconciler: verifies, decodes and applies webhook events; returns notification intents.
//   - Gate: quota and feature decisions for resource controllers.
//   - Orchestrator: tenant-initiated plan changes and customer portal sessions.
//   - Catalog: price id to tier mapping, display names and tier limits.
//
// Storage, notification delivery and the processor API are injected through
// RecordStore, FingerprintStore, Directory and Processor. PaddleProcessor is the
// production Processor.
//
// # Usage
//
//	catalog, err := billing.NewCatalogFromConfig(cfg.Catalog)
//	if err != nil {
//		return err
//	}
//	paddle, err := billing.NewPaddleProcessor(cfg.Paddle)
//	if err != nil {
//		return err
//	}
//
//	rec := billing.NewReconciler(paddle, paddle, records, billing.NewLedger(fingerprints), directory, catalog,
//		billing.WithReconcilerLogger(log),
//	)
//	out, err := rec.HandleWebhook(ctx, body, r.Header.Get(billing.SignatureHeader))
//
//	gate := billing.NewGate(records, catalog, billing.WithPatientCounter(patients))
//	decision, err := gate.CheckQuota(ctx, tenantID, billing.ResourcePatients, 1)
//	if err == nil && !decision.Allowed {
//		// render decision.Reason and decision.Limits
//	}
//
// # Effective plan
//
// Active and trialing subscriptions get their recorded tier. Canceled
// subscriptions keep it until the paid-through date, then resolve to free.
// Everything else is free. Readers that notice an elapsed grace period may
// persist plan=free; the write is idempotent and optional.
package billing
