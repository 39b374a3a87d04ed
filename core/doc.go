// Package core contains the canonical mailroom domain contracts, entities,
// and configuration. Ingestion paths, guards, and adapters depend on this
// package; core must not depend on transport-specific or store-specific
// siblings.
package core
