// Package domain contains the core entities of the fusion service:
// assets, fusion records, the status state machine and the error
// taxonomy shared by every layer.
//
// The package is dependency-light on purpose. Adapters, clients and the
// orchestrator all speak these types; none of them leak back in.
package domain
