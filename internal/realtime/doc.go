// Package realtime tracks authenticated push sessions and fans parking
// updates out to every session in a topic.
//
// It is transport independent: a websocket (or a test fake) implements
// Session, and the Registry only ever sees session IDs, user IDs and topic
// names.
//
// # Lifecycle
//
//	Accept(token) ──verify──▶ open() ──▶ registered ──▶ Subscribe/Unsubscribe* ──▶ OnDisconnect
//	      │
//	      └── verification fails: open is never called, nothing is registered
//
// A topic is a parking space ID. Topic membership lives only in memory; the
// durable record of interest is parking.Subscription, which the registry can
// replay into a new session on Accept.
//
// # Delivery
//
// Notifier.Publish marshals the frame once, snapshots the topic under a read
// lock and calls Send on each member outside the lock. Send is a
// non-blocking enqueue into the session's Outbox, whose single consumer
// preserves per-session order. A full or closed outbox loses only that
// session's copy.
package realtime
