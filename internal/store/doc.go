// Package store defines the transactional persistence contract the crawlers
// write through. Implementations live in internal/storage; this package must
// not import database drivers or concrete clients.
package store
