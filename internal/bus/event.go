package bus

import "time"

// Event kinds published by the stores, the read-state tracker and the sync controller.
const (
	KindContactsUpserted = "store.contacts_upserted"
	KindChatsChanged     = "store.chats_changed"
	KindMessagesUpserted = "store.messages_upserted"
	KindReadStateChanged = "readstate.changed"
	KindSyncState        = "sync.state_changed"
	KindSyncError        = "sync.error"
	KindChatListRefresh  = "sync.chats_refreshed"
	KindMessageSent      = "sync.message_sent"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
