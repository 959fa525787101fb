// Package influxdb mirrors device telemetry into InfluxDB v2.
//
// SQLite stays the source of truth for readings awaiting upload; this
// package is an optional time-series copy for dashboards. It wraps the
// official influxdb-client-go v2 library:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{
//	    DeviceID:   "thermo-01",
//	    SensorType: "temperature",
//	    Unit:       "C",
//	    Value:      21.5,
//	    Timestamp:  time.Now(),
//	})
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write errors are delivered to the SetOnError callback.
package influxdb
