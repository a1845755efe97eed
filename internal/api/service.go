package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/aichat/internal/bus"
	"github.com/matheus3301/aichat/internal/remote"
	"github.com/matheus3301/aichat/internal/store"
	intsync "github.com/matheus3301/aichat/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements ChatSyncServer on top of the sync controller.
type Service struct {
	ctrl        *intsync.Controller
	bus         *bus.Bus
	profileName string
	logger      *zap.Logger
}

var _ ChatSyncServer = (*Service)(nil)

// NewService creates a new ChatSync service.
func NewService(ctrl *intsync.Controller, b *bus.Bus, profileName string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ctrl:        ctrl,
		bus:         b,
		profileName: profileName,
		logger:      logger,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.ctrl.Status()
	errs := make(map[string]any, len(st.Errors))
	for k, v := range st.Errors {
		errs[k] = v
	}
	return reply(map[string]any{
		"profile":           s.profileName,
		"active_chat_id":    st.ActiveChatID,
		"state":             string(st.State),
		"latest_message_id": st.LatestMessageID,
		"errors":            errs,
		"chats":             st.Chats,
		"contacts":          st.Contacts,
		"messages":          st.Messages,
		"last_chat_refresh": toMillis(st.LastChatRefresh),
	})
}

func (s *Service) ListChats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	views := s.ctrl.ChatList()
	chats := make([]any, len(views))
	for i, v := range views {
		chats[i] = chatViewToMap(v)
	}
	return reply(map[string]any{"chats": chats})
}

func (s *Service) ListContacts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list := s.ctrl.Contacts()
	contacts := make([]any, len(list))
	for i, c := range list {
		contacts[i] = contactToMap(c)
	}
	return reply(map[string]any{"contacts": contacts})
}

func (s *Service) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := requireString(req, "chat_id")
	if err != nil {
		return nil, err
	}
	msgs := s.ctrl.Messages(chatID)
	if limit := int(getInt(req, "limit")); limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageToMap(m)
	}
	return reply(map[string]any{"messages": out})
}

func (s *Service) OpenChat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID := getString(req, "chat_id")
	w, err := s.ctrl.Open(chatID)
	if err != nil {
		return nil, toStatus(err)
	}
	if w == nil {
		return reply(map[string]any{"chat_id": "", "state": ""})
	}
	return reply(map[string]any{"chat_id": w.ChatID(), "state": string(w.State())})
}

func (s *Service) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := requireString(req, "chat_id")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.Send(ctx, chatID, getString(req, "message"), getOptString(req, "image_id")); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"accepted": true})
}

func (s *Service) MarkChatRead(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := requireString(req, "chat_id")
	if err != nil {
		return nil, err
	}
	changed, err := s.ctrl.MarkRead(chatID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"changed": changed})
}

func (s *Service) RefreshChats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	refreshed, err := s.ctrl.RefreshChats(ctx, getBool(req, "force"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"refreshed": refreshed})
}

func (s *Service) CreateContact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	gender := store.Gender(strings.ToUpper(getString(req, "gender")))
	if !gender.Valid() {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "gender must be MALE or FEMALE")
	}
	res, err := s.ctrl.CreateContact(ctx, gender)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"contact": contactToMap(res.Contact),
		"chat":    chatToMap(res.Chat),
	})
}

// FetchImage downloads either an avatar ({avatar_id}) or a chat image
// ({chat_id, image_id}).
func (s *Service) FetchImage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		img *remote.Image
		err error
	)
	if avatarID := getString(req, "avatar_id"); avatarID != "" {
		img, err = s.ctrl.FetchAvatar(ctx, avatarID)
	} else {
		chatID, imageID := getString(req, "chat_id"), getString(req, "image_id")
		if chatID == "" || imageID == "" {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "avatar_id or chat_id and image_id are required")
		}
		img, err = s.ctrl.FetchChatImage(ctx, chatID, imageID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"content_type": img.ContentType,
		"data":         img.Data,
	})
}

// WatchEvents streams bus events whose kind starts with the requested
// prefix (all events when empty) until the client goes away.
func (s *Service) WatchEvents(req *structpb.Struct, stream EventStream) error {
	ch, unsub := s.bus.Subscribe(getString(req, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			msg, err := structpb.NewStruct(map[string]any{
				"event_id":    uuid.New().String(),
				"profile":     s.profileName,
				"kind":        evt.Kind,
				"occurred_at": evt.Timestamp.UnixMilli(),
				"payload":     eventPayload(evt),
			})
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func reply(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func requireString(req *structpb.Struct, key string) (string, error) {
	v := getString(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps domain errors to gRPC status codes. The message is the
// user-facing description.
func toStatus(err error) error {
	var (
		te *remote.TransportError
		ve *remote.ValidationError
	)
	switch {
	case errors.Is(err, intsync.ErrEmptyMessage):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, intsync.ErrUnknownChat):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.As(err, &te):
		return grpcstatus.Error(codes.Unavailable, remote.Describe(err))
	case errors.As(err, &ve):
		return grpcstatus.Error(codes.Internal, remote.Describe(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Error(codes.Internal, fmt.Sprint(err))
}
