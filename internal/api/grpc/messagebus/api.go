// Package messagebus exposes the message bus over gRPC. Messages on the wire
// are JSON documents carried by the "json" codec registered in this package,
// so no generated stubs are needed on either side.
package messagebus

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "messagebus.v1.MessageBusService"

// Full method names.
const (
	PublishMessageMethod = "/" + ServiceName + "/PublishMessage"
	CreateTopicMethod    = "/" + ServiceName + "/CreateTopic"
	GetTopicMethod       = "/" + ServiceName + "/GetTopic"
	ListTopicsMethod     = "/" + ServiceName + "/ListTopics"
	DeleteTopicMethod    = "/" + ServiceName + "/DeleteTopic"
	HealthCheckMethod    = "/" + ServiceName + "/HealthCheck"
)

// Serving states reported by HealthCheck.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

type PublishMessageRequest struct {
	Topic      string            `json:"topic"`
	Payload    []byte            `json:"payload"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type PublishMessageResponse struct {
	Success      bool   `json:"success"`
	MessageID    string `json:"message_id,omitempty"`
	PublishTime  string `json:"publish_time,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Topic is the wire form of a topic. CreatedAt is RFC 3339 in UTC.
type Topic struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	PartitionCount int32             `json:"partition_count"`
	RetentionHours int32             `json:"retention_hours"`
}

type CreateTopicRequest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	PartitionCount int32             `json:"partition_count,omitempty"`
	RetentionHours int32             `json:"retention_hours,omitempty"`
}

type CreateTopicResponse struct {
	Success      bool   `json:"success"`
	Topic        *Topic `json:"topic,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type GetTopicRequest struct {
	Name string `json:"name"`
}

type GetTopicResponse struct {
	Success      bool   `json:"success"`
	Topic        *Topic `json:"topic,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ListTopicsRequest struct {
	PageSize  int32  `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListTopicsResponse struct {
	Topics        []*Topic `json:"topics"`
	NextPageToken string   `json:"next_page_token,omitempty"`
	TotalCount    int32    `json:"total_count"`
}

type DeleteTopicRequest struct {
	Name string `json:"name"`
}

type DeleteTopicResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type HealthCheckRequest struct {
	Service string `json:"service,omitempty"`
}

type HealthCheckResponse struct {
	Status string `json:"status"`
}

// MessageBusServiceServer is the server API for the message bus service.
type MessageBusServiceServer interface {
	PublishMessage(context.Context, *PublishMessageRequest) (*PublishMessageResponse, error)
	CreateTopic(context.Context, *CreateTopicRequest) (*CreateTopicResponse, error)
	GetTopic(context.Context, *GetTopicRequest) (*GetTopicResponse, error)
	ListTopics(context.Context, *ListTopicsRequest) (*ListTopicsResponse, error)
	DeleteTopic(context.Context, *DeleteTopicRequest) (*DeleteTopicResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

// RegisterMessageBusServiceServer registers srv on s.
func RegisterMessageBusServiceServer(s grpc.ServiceRegistrar, srv MessageBusServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the message bus service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessageBusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PublishMessage", Handler: unaryHandler(PublishMessageMethod, MessageBusServiceServer.PublishMessage)},
		{MethodName: "CreateTopic", Handler: unaryHandler(CreateTopicMethod, MessageBusServiceServer.CreateTopic)},
		{MethodName: "GetTopic", Handler: unaryHandler(GetTopicMethod, MessageBusServiceServer.GetTopic)},
		{MethodName: "ListTopics", Handler: unaryHandler(ListTopicsMethod, MessageBusServiceServer.ListTopics)},
		{MethodName: "DeleteTopic", Handler: unaryHandler(DeleteTopicMethod, MessageBusServiceServer.DeleteTopic)},
		{MethodName: "HealthCheck", Handler: unaryHandler(HealthCheckMethod, MessageBusServiceServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "messagebus/v1/messagebus.proto",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(MessageBusServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MessageBusServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MessageBusServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MessageBusServiceClient is the client API for the message bus service.
type MessageBusServiceClient interface {
	PublishMessage(ctx context.Context, in *PublishMessageRequest, opts ...grpc.CallOption) (*PublishMessageResponse, error)
	CreateTopic(ctx context.Context, in *CreateTopicRequest, opts ...grpc.CallOption) (*CreateTopicResponse, error)
	GetTopic(ctx context.Context, in *GetTopicRequest, opts ...grpc.CallOption) (*GetTopicResponse, error)
	ListTopics(ctx context.Context, in *ListTopicsRequest, opts ...grpc.CallOption) (*ListTopicsResponse, error)
	DeleteTopic(ctx context.Context, in *DeleteTopicRequest, opts ...grpc.CallOption) (*DeleteTopicResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error)
}

type messageBusServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMessageBusClient returns a client that talks JSON over cc.
func NewMessageBusClient(cc grpc.ClientConnInterface) MessageBusServiceClient {
	return &messageBusServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *messageBusServiceClient) PublishMessage(ctx context.Context, in *PublishMessageRequest, opts ...grpc.CallOption) (*PublishMessageResponse, error) {
	return invoke[PublishMessageResponse](ctx, c.cc, PublishMessageMethod, in, opts)
}

func (c *messageBusServiceClient) CreateTopic(ctx context.Context, in *CreateTopicRequest, opts ...grpc.CallOption) (*CreateTopicResponse, error) {
	return invoke[CreateTopicResponse](ctx, c.cc, CreateTopicMethod, in, opts)
}

func (c *messageBusServiceClient) GetTopic(ctx context.Context, in *GetTopicRequest, opts ...grpc.CallOption) (*GetTopicResponse, error) {
	return invoke[GetTopicResponse](ctx, c.cc, GetTopicMethod, in, opts)
}

func (c *messageBusServiceClient) ListTopics(ctx context.Context, in *ListTopicsRequest, opts ...grpc.CallOption) (*ListTopicsResponse, error) {
	return invoke[ListTopicsResponse](ctx, c.cc, ListTopicsMethod, in, opts)
}

func (c *messageBusServiceClient) DeleteTopic(ctx context.Context, in *DeleteTopicRequest, opts ...grpc.CallOption) (*DeleteTopicResponse, error) {
	return invoke[DeleteTopicResponse](ctx, c.cc, DeleteTopicMethod, in, opts)
}

func (c *messageBusServiceClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	return invoke[HealthCheckResponse](ctx, c.cc, HealthCheckMethod, in, opts)
}
