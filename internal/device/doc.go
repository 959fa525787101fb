// Package device provides the device store and registry for the devsync core.
//
// Devices are mirrored from the backend by the sync engine and updated in
// place by hardware callbacks (online state, battery, signal, location).
// Every command, telemetry reading and configuration entry belongs to a
// device; deleting the device removes them by foreign-key cascade.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Cancel queued work before the cascade delete runs.
//	registry.OnDelete(func(ctx context.Context, id string) error {
//	    _, err := queueManager.CancelAllPendingForDevice(ctx, id)
//	    return err
//	})
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	online := true
//	registry.UpdateStatus(ctx, id, device.StatusUpdate{IsOnline: &online, SeenAt: time.Now()})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The cache is protected by a
// read-write mutex and hands out deep copies.
package device
