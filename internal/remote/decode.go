package remote

import (
	"fmt"
	"regexp"
	"time"

	"github.com/matheus3301/aichat/internal/store"
	"github.com/valyala/fastjson"
)

// TimeLayout is the only timestamp format the backend emits.
const TimeLayout = "2006-01-02T15:04:05"

var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`)

// ParseTimestamp validates s strictly and interprets it as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if !timestampRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("invalid format %q, expected YYYY-MM-DDTHH:mm:ss", s)
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// shapeError is a field-level failure; the client turns it into a ValidationError.
type shapeError struct {
	field  string
	reason string
}

func (e *shapeError) Error() string { return e.field + ": " + e.reason }

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func index(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}

func getString(v *fastjson.Value, prefix, key string) (string, error) {
	f := v.Get(key)
	if f == nil {
		return "", &shapeError{join(prefix, key), "missing"}
	}
	if f.Type() != fastjson.TypeString {
		return "", &shapeError{join(prefix, key), "must be a string"}
	}
	return string(f.GetStringBytes()), nil
}

// getNullableString requires key to be present; null yields nil.
func getNullableString(v *fastjson.Value, prefix, key string) (*string, error) {
	f := v.Get(key)
	if f == nil {
		return nil, &shapeError{join(prefix, key), "missing"}
	}
	switch f.Type() {
	case fastjson.TypeNull:
		return nil, nil
	case fastjson.TypeString:
		s := string(f.GetStringBytes())
		return &s, nil
	}
	return nil, &shapeError{join(prefix, key), "must be a string or null"}
}

func getTime(v *fastjson.Value, prefix, key string) (time.Time, error) {
	s, err := getString(v, prefix, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, &shapeError{join(prefix, key), err.Error()}
	}
	return t, nil
}

func getInt(v *fastjson.Value, prefix, key string) (int, error) {
	f := v.Get(key)
	if f == nil {
		return 0, &shapeError{join(prefix, key), "missing"}
	}
	n, err := f.Int()
	if err != nil {
		return 0, &shapeError{join(prefix, key), "must be an integer"}
	}
	return n, nil
}

func getNumber(v *fastjson.Value, prefix, key string) (float64, error) {
	f := v.Get(key)
	if f == nil {
		return 0, &shapeError{join(prefix, key), "missing"}
	}
	n, err := f.Float64()
	if err != nil {
		return 0, &shapeError{join(prefix, key), "must be a number"}
	}
	return n, nil
}

func getArray(v *fastjson.Value, prefix string) ([]*fastjson.Value, error) {
	items, err := v.Array()
	if err != nil {
		field := prefix
		if field == "" {
			field = "(root)"
		}
		return nil, &shapeError{field, "must be an array"}
	}
	return items, nil
}

func getObject(v *fastjson.Value, prefix, key string) (*fastjson.Value, error) {
	f := v.Get(key)
	if f == nil {
		return nil, &shapeError{join(prefix, key), "missing"}
	}
	if f.Type() != fastjson.TypeObject {
		return nil, &shapeError{join(prefix, key), "must be an object"}
	}
	return f, nil
}

func decodeContact(v *fastjson.Value, prefix string) (store.Contact, error) {
	if v.Type() != fastjson.TypeObject {
		return store.Contact{}, &shapeError{prefix, "must be an object"}
	}
	var (
		c   store.Contact
		err error
	)
	if c.ID, err = getString(v, prefix, "id"); err != nil {
		return c, err
	}
	if c.CreatedAt, err = getTime(v, prefix, "created_at"); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = getTime(v, prefix, "updated_at"); err != nil {
		return c, err
	}
	g, err := getString(v, prefix, "gender")
	if err != nil {
		return c, err
	}
	c.Gender = store.Gender(g)
	if !c.Gender.Valid() {
		return c, &shapeError{join(prefix, "gender"), fmt.Sprintf("unknown value %q", g)}
	}
	if c.FirstName, err = getString(v, prefix, "first_name"); err != nil {
		return c, err
	}
	if c.LastName, err = getString(v, prefix, "last_name"); err != nil {
		return c, err
	}
	if c.Age, err = getInt(v, prefix, "age"); err != nil {
		return c, err
	}
	if c.WeightLbs, err = getNumber(v, prefix, "weight_lbs"); err != nil {
		return c, err
	}
	if c.USState, err = getString(v, prefix, "us_state"); err != nil {
		return c, err
	}
	if c.City, err = getString(v, prefix, "city"); err != nil {
		return c, err
	}
	if c.Bio, err = getString(v, prefix, "bio"); err != nil {
		return c, err
	}
	// avatar_id only exists on newer backends.
	if v.Exists("avatar_id") {
		avatar, err := getNullableString(v, prefix, "avatar_id")
		if err != nil {
			return c, err
		}
		if avatar != nil {
			c.AvatarID = *avatar
		}
	}
	return c, nil
}

func decodeChat(v *fastjson.Value, prefix string) (store.Chat, error) {
	if v.Type() != fastjson.TypeObject {
		return store.Chat{}, &shapeError{prefix, "must be an object"}
	}
	var (
		c   store.Chat
		err error
	)
	if c.ID, err = getString(v, prefix, "id"); err != nil {
		return c, err
	}
	if c.CreatedAt, err = getTime(v, prefix, "created_at"); err != nil {
		return c, err
	}
	if c.LastMessageTime, err = getTime(v, prefix, "last_message_time"); err != nil {
		return c, err
	}
	membersPath := join(prefix, "members")
	mv := v.Get("members")
	if mv == nil {
		return c, &shapeError{membersPath, "missing"}
	}
	items, err := getArray(mv, membersPath)
	if err != nil {
		return c, err
	}
	c.Members = make([]store.ChatMember, 0, len(items))
	for i, item := range items {
		p := index(membersPath, i)
		if item.Type() != fastjson.TypeObject {
			return c, &shapeError{p, "must be an object"}
		}
		var m store.ChatMember
		if m.ContactID, err = getString(item, p, "contact_id"); err != nil {
			return c, err
		}
		if m.JoinedAt, err = getTime(item, p, "joined_at"); err != nil {
			return c, err
		}
		c.Members = append(c.Members, m)
	}
	return c, nil
}

func decodeMessage(v *fastjson.Value, prefix string) (store.Message, error) {
	if v.Type() != fastjson.TypeObject {
		return store.Message{}, &shapeError{prefix, "must be an object"}
	}
	var (
		m   store.Message
		err error
	)
	if m.ID, err = getString(v, prefix, "id"); err != nil {
		return m, err
	}
	if m.ChatID, err = getString(v, prefix, "chat_id"); err != nil {
		return m, err
	}
	if m.ContactID, err = getNullableString(v, prefix, "contact_id"); err != nil {
		return m, err
	}
	if m.Body, err = getString(v, prefix, "message"); err != nil {
		return m, err
	}
	if m.ImageID, err = getNullableString(v, prefix, "image_id"); err != nil {
		return m, err
	}
	if m.CreatedAt, err = getTime(v, prefix, "created_at"); err != nil {
		return m, err
	}
	return m, nil
}

func decodeList[T any](v *fastjson.Value, decode func(*fastjson.Value, string) (T, error)) ([]T, error) {
	items, err := getArray(v, "")
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i, item := range items {
		rec, err := decode(item, index("", i))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
