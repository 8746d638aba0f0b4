// Package contentstore associates binary content with application entities
// and stores it in a pluggable backend.
//
// A Store is composed explicitly from a Loader (one backend driver, or a
// delegating loader that picks a driver from database metadata) and a Placer
// that turns an entity or raw id into a Location. Callers hand the Store an
// Entity and a byte stream; the Store resolves a Resource, streams the bytes
// through it and writes the backend-confirmed content id and length back onto
// the entity.
//
// Drivers live under storage/: fs, memory, kv (pebble), s3 and sqlblob
// (generic database/sql and Postgres).
//
// Error Policy
//
// Reads of missing content are not errors: GetContent reports found=false.
// Backend I/O failures during reads are logged and also reported as absent.
// Configuration and access errors are always returned. Write failures are
// returned and leave the entity unchanged. UnsetContent logs and swallows
// backend deletion failures, then clears the entity fields.
package contentstore
