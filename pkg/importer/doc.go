// Package importer runs named extract/transform/load pipelines.
//
// A Manager holds the registered pipelines. Manager.Imports resolves the requested pipelines together
// with their required pipelines, orders them by dependency and runs them one after the other.
// Every run holds the lock "importer:<pipeline>" so a pipeline is never imported twice at the same time,
// a run which can not acquire the lock is skipped.
//
// A run extracts the source data batch by batch, transforms and loads each batch and dispatches
// PreImport, PartialImport, ErrorImport and PostImport events to the configured Dispatcher.
// Pipelines opt into additional behavior by implementing the optional interfaces
// Batchable, Incrementable, RequiredPipelines, RequiredUser, RequiredOrganization, Loggable and
// CleanableLoadedData.
package importer
