package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "aichat.v1.ChatSync"

// Method names.
const (
	MethodGetStatus     = "GetStatus"
	MethodListChats     = "ListChats"
	MethodListContacts  = "ListContacts"
	MethodListMessages  = "ListMessages"
	MethodOpenChat      = "OpenChat"
	MethodSendMessage   = "SendMessage"
	MethodMarkChatRead  = "MarkChatRead"
	MethodRefreshChats  = "RefreshChats"
	MethodCreateContact = "CreateContact"
	MethodFetchImage    = "FetchImage"
	MethodWatchEvents   = "WatchEvents"
)

// FullMethod returns the wire name of a method, e.g. "/aichat.v1.ChatSync/GetStatus".
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ChatSyncServer is the server API for the ChatSync service. Requests and
// responses are google.protobuf.Struct messages.
type ChatSyncServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkChatRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateContact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FetchImage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type unaryCall func(ChatSyncServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatSyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatSyncServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (x *watchEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatSyncServer).WatchEvents(m, &watchEventsServer{stream})
}

// ServiceDesc describes the ChatSync service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, ChatSyncServer.GetStatus),
		unary(MethodListChats, ChatSyncServer.ListChats),
		unary(MethodListContacts, ChatSyncServer.ListContacts),
		unary(MethodListMessages, ChatSyncServer.ListMessages),
		unary(MethodOpenChat, ChatSyncServer.OpenChat),
		unary(MethodSendMessage, ChatSyncServer.SendMessage),
		unary(MethodMarkChatRead, ChatSyncServer.MarkChatRead),
		unary(MethodRefreshChats, ChatSyncServer.RefreshChats),
		unary(MethodCreateContact, ChatSyncServer.CreateContact),
		unary(MethodFetchImage, ChatSyncServer.FetchImage),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "aichat/v1/chatsync.proto",
}

// RegisterChatSyncServer registers srv on s.
func RegisterChatSyncServer(s grpc.ServiceRegistrar, srv ChatSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
