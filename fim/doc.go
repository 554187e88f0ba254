// Package fim runs classified FIM events through handler chains.
//
// An Orchestrator holds one Chain per core.Operation. Chains are built at startup by
// a ChainBuilder and never change afterwards. Every stage acts on the event and the
// chain moves on to the next one; a stage cannot drop an event, it can only fail it.
//
// Documents are published through the storage.Registry selected by the event's
// AffectedComponentType. Events of an Invalid component never reach a lookup.
package fim
