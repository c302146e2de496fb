// Package device holds the data model shared by the bridge core: discovered
// device descriptors, connection states, sensor features, settings candidates
// and resolved configurations, sample batches and the error taxonomy.
//
// It also declares the capability interfaces the core consumes from the
// vendor transport:
//   - Searcher for cancellable device discovery
//   - Connector for fire-and-forget connect / disconnect requests
//   - SettingsSource for the available and full stream-settings queries
//   - Streamer for continuous measurement streams
package device
