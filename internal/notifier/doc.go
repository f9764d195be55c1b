// Package notifier turns engine alerts into operator notifications.
//
// The service subscribes to the event bus, renders alert.* events as short
// texts and hands them to a Sender (e.g. the Telegram adapter) through a
// bounded queue. Delivery is rate limited, retried with backoff and
// deduplicated per (key, kind, timer).
//
// # Bell
//
// The service also implements engine.Alarm: Ring writes a terminal bell to
// the configured writer, at most once per second for each timer key.
//
// # History
//
// A small in-memory history of delivered texts backs the /alerts command.
package notifier
