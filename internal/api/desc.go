// Package api is the daemon's control surface: a gRPC service on the
// profile's Unix socket whose messages are google.protobuf.Struct documents.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "unisync.v1.ChatSync"

// Method names.
const (
	MethodGetStatus      = "GetStatus"
	MethodListChats      = "ListChats"
	MethodGetMessages    = "GetMessages"
	MethodOpenChat       = "OpenChat"
	MethodCloseChat      = "CloseChat"
	MethodWatchChat      = "WatchChat"
	MethodSendMessage    = "SendMessage"
	MethodRetryMessage   = "RetryMessage"
	MethodDiscardMessage = "DiscardMessage"
	MethodRefresh        = "Refresh"
	MethodReportViewport = "ReportViewport"
	MethodWatchEvents    = "WatchEvents"
)

// ChatSyncServer is the server side of the control API.
type ChatSyncServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DiscardMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportViewport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server half of WatchEvents.
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
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatSyncServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatSyncServer).WatchEvents(in, &eventStream{stream})
}

// ServiceDesc describes the ChatSync service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, ChatSyncServer.GetStatus),
		unary(MethodListChats, ChatSyncServer.ListChats),
		unary(MethodGetMessages, ChatSyncServer.GetMessages),
		unary(MethodOpenChat, ChatSyncServer.OpenChat),
		unary(MethodCloseChat, ChatSyncServer.CloseChat),
		unary(MethodWatchChat, ChatSyncServer.WatchChat),
		unary(MethodSendMessage, ChatSyncServer.SendMessage),
		unary(MethodRetryMessage, ChatSyncServer.RetryMessage),
		unary(MethodDiscardMessage, ChatSyncServer.DiscardMessage),
		unary(MethodRefresh, ChatSyncServer.Refresh),
		unary(MethodReportViewport, ChatSyncServer.ReportViewport),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// Register adds srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ChatSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
