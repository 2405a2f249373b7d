// Package crawler implements the generic producer/consumer crawl engine.
//
// An Engine multiplexes many independently progressing sources through one
// bounded queue. The producer walks a snapshot of the progress mapping each
// round, reading the next page after every source's cursor. The consumer
// persists each page and its new cursor in a single store transaction, so the
// stored cursor never runs ahead of the stored events.
package crawler
