// Package api provides the REST surface over the orchestrator: memory
// CRUD, search, retrieval recording, and manual consolidation triggers,
// using gin with a uniform Response envelope and optional CORS.
package api
