// Package ports defines the interfaces between the fusion orchestrator
// and its collaborators: asset ledger, fusion record store, external
// generation/mint clients and the cost policy.
//
// Adapters live under internal/adapters and internal/clients; the
// orchestrator composes these ports without knowing which backing
// implementation it got.
package ports
