// Package audit buffers security audit events and delivers them to sinks.
//
// [Dispatcher] relays events asynchronously with drop-if-full or
// block-if-full semantics. Sinks include a channel, a JSON line writer, a
// fan-out [MultiSink] and a Kafka producer. Postgres persistence lives in
// store/postgres.
//
// This package decides nothing about which events exist; the engine does.
package audit
