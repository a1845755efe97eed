package api

import (
	"time"

	"github.com/matheus3301/aichat/internal/bus"
	"github.com/matheus3301/aichat/internal/readstate"
	"github.com/matheus3301/aichat/internal/status"
	"github.com/matheus3301/aichat/internal/store"
	intsync "github.com/matheus3301/aichat/internal/sync"
	"google.golang.org/protobuf/types/known/structpb"
)

// Times cross the wire as unix milliseconds; zero times as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func contactToMap(c store.Contact) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"created_at": toMillis(c.CreatedAt),
		"updated_at": toMillis(c.UpdatedAt),
		"gender":     string(c.Gender),
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"age":        c.Age,
		"weight_lbs": c.WeightLbs,
		"us_state":   c.USState,
		"city":       c.City,
		"bio":        c.Bio,
		"avatar_id":  c.AvatarID,
	}
}

func chatToMap(c store.Chat) map[string]any {
	members := make([]any, len(c.Members))
	for i, m := range c.Members {
		members[i] = map[string]any{
			"contact_id": m.ContactID,
			"joined_at":  toMillis(m.JoinedAt),
		}
	}
	return map[string]any{
		"id":                c.ID,
		"created_at":        toMillis(c.CreatedAt),
		"last_message_time": toMillis(c.LastMessageTime),
		"members":           members,
	}
}

func chatViewToMap(v intsync.ChatView) map[string]any {
	m := chatToMap(v.Chat)
	m["unread"] = v.Unread
	m["last_read_at"] = toMillis(v.LastReadAt)
	return m
}

func messageToMap(m store.Message) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"chat_id":    m.ChatID,
		"contact_id": optString(m.ContactID),
		"message":    m.Body,
		"image_id":   optString(m.ImageID),
		"created_at": toMillis(m.CreatedAt),
		"from_me":    m.FromMe(),
	}
}

func stringsToList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// eventPayload flattens the known bus payloads into Struct-compatible values.
func eventPayload(evt bus.Event) map[string]any {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		return map[string]any{"chat_id": p.ChatID, "from": string(p.From), "to": string(p.To)}
	case readstate.Change:
		return map[string]any{"chat_ids": stringsToList(p.ChatIDs)}
	case intsync.SyncError:
		return map[string]any{"scope": p.Scope, "message": p.Message}
	case intsync.ChatsRefreshed:
		return map[string]any{"chats": p.Chats, "contacts": p.Contacts}
	case store.MessagesUpserted:
		return map[string]any{"chat_id": p.ChatID, "inserted": p.Inserted, "replaced": p.Replaced}
	case []string:
		return map[string]any{"ids": stringsToList(p)}
	case string:
		return map[string]any{"id": p}
	case int:
		return map[string]any{"count": p}
	}
	return map[string]any{}
}

// Accessors for decoded Struct fields. Missing or mistyped fields read as zero.

func getString(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getOptString(s *structpb.Struct, key string) *string {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isStr := v.GetKind().(*structpb.Value_StringValue); !isStr {
		return nil
	}
	str := v.GetStringValue()
	return &str
}

func getBool(s *structpb.Struct, key string) bool {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func getInt(s *structpb.Struct, key string) int64 {
	if v, ok := s.GetFields()[key]; ok {
		return int64(v.GetNumberValue())
	}
	return 0
}

func getFloat(s *structpb.Struct, key string) float64 {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func getStruct(s *structpb.Struct, key string) *structpb.Struct {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStructValue()
	}
	return nil
}

func getList(s *structpb.Struct, key string) []*structpb.Value {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetListValue().GetValues()
	}
	return nil
}

func contactFromStruct(s *structpb.Struct) store.Contact {
	return store.Contact{
		ID:        getString(s, "id"),
		CreatedAt: fromMillis(getInt(s, "created_at")),
		UpdatedAt: fromMillis(getInt(s, "updated_at")),
		Gender:    store.Gender(getString(s, "gender")),
		FirstName: getString(s, "first_name"),
		LastName:  getString(s, "last_name"),
		Age:       int(getInt(s, "age")),
		WeightLbs: getFloat(s, "weight_lbs"),
		USState:   getString(s, "us_state"),
		City:      getString(s, "city"),
		Bio:       getString(s, "bio"),
		AvatarID:  getString(s, "avatar_id"),
	}
}

func chatFromStruct(s *structpb.Struct) store.Chat {
	c := store.Chat{
		ID:              getString(s, "id"),
		CreatedAt:       fromMillis(getInt(s, "created_at")),
		LastMessageTime: fromMillis(getInt(s, "last_message_time")),
	}
	for _, v := range getList(s, "members") {
		m := v.GetStructValue()
		c.Members = append(c.Members, store.ChatMember{
			ContactID: getString(m, "contact_id"),
			JoinedAt:  fromMillis(getInt(m, "joined_at")),
		})
	}
	return c
}

func messageFromStruct(s *structpb.Struct) store.Message {
	return store.Message{
		ID:        getString(s, "id"),
		ChatID:    getString(s, "chat_id"),
		ContactID: getOptString(s, "contact_id"),
		Body:      getString(s, "message"),
		ImageID:   getOptString(s, "image_id"),
		CreatedAt: fromMillis(getInt(s, "created_at")),
	}
}
