// Package parking is the durable store for parking spaces and the users'
// subscriptions to them.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                         parking                               │
//	│                                                               │
//	│  ┌──────────────────┐   ┌──────────────────────────────────┐  │
//	│  │    Validation    │   │          SQLiteRepository        │  │
//	│  │ (validation.go)  │   │  FindBySensorID / UpdateStatus   │  │
//	│  │ input, patch,    │──▶│  GetByID / List / Create /       │  │
//	│  │ query bounds     │   │  Update / Delete                 │  │
//	│  └──────────────────┘   └──────────────────────────────────┘  │
//	│                         ┌──────────────────────────────────┐  │
//	│                         │  SQLiteSubscriptionRepository    │  │
//	│                         │  Create / Delete / Exists /      │  │
//	│                         │  ListByUser / ListTopicsByUser   │  │
//	│                         └──────────────────────────────────┘  │
//	└───────────────────────────────────────────────────────────────┘
//
// A space's ID is also its realtime topic: sessions interested in a space
// join the topic named by the space ID, and ListTopicsByUser returns exactly
// those IDs for a user's durable subscriptions.
//
// UpdateStatus is the only write path used by sensor ingestion. It never
// creates a space; an unknown sensor returns ErrSpaceNotFound.
//
// Every error returned by this package carries a result.Code.
package parking
