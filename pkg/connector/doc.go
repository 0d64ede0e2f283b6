// Package connector holds the connector framework for crmflow.
//
// Sub-packages:
//
//   - core: the Source and Destination contracts, the lazy PageIterator
//     and the NamedStream type that carries a stream's name, primary
//     key and write disposition.
//
//   - base: BaseConnector, embedded by concrete connectors for logging,
//     resumable state, rate limiting and retry with backoff.
//
//   - registry: name-to-factory registration; connector packages
//     register themselves in init and the pipeline builds them from raw
//     config bytes.
//
//   - sources: source connectors. The hubspot source extracts CRM
//     objects, property histories, pipelines, stage timings and
//     incremental behavioral events.
//
//   - destinations: destination connectors. The jsonl destination
//     writes one newline-delimited JSON file per stream.
package connector
