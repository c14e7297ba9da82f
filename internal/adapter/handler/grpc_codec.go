package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype carried as application/grpc+json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const inventoryServiceName = "warehouse.v1.Inventory"

// InventoryServer is the gRPC surface of the warehouse workflows.
type InventoryServer interface {
	Receive(context.Context, *ReceiveRequest) (*EventJSON, error)
	Pick(context.Context, *PickRequest) (*PickResponse, error)
	Quantity(context.Context, *QuantityRequest) (*QuantityResponse, error)
	History(*HistoryRequest, grpc.ServerStreamingServer[EventJSON]) error
	OpenAudit(context.Context, *ActorRequest) (*SessionJSON, error)
	ScanAudit(context.Context, *AuditScanRequest) (*ScanResponse, error)
	CloseAudit(context.Context, *SessionRequest) (*CloseAuditResponse, error)
	CommitAudit(context.Context, *ActorRequest) (*ApplyResponse, error)
	DiscardAudit(context.Context, *ActorRequest) (*SessionJSON, error)
	CreateItem(context.Context, *ItemJSON) (*ItemJSON, error)
	GetItem(context.Context, *ItemRequest) (*ItemJSON, error)
	SearchItems(context.Context, *ItemSearchRequest) (*ItemsResponse, error)
	Labels(context.Context, *LabelsRequest) (*LabelsResponse, error)
	Import(context.Context, *ImportRequest) (*ImportResponse, error)
	ImportItems(context.Context, *ImportRequest) (*ImportResponse, error)
	ExportStock(context.Context, *ExportRequest) (*CSVResponse, error)
	ExportAudit(context.Context, *ExportRequest) (*CSVResponse, error)
}

func unaryMethod[Req, Resp any](name string, call func(InventoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InventoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + inventoryServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InventoryServer), ctx, req.(*Req))
			})
		},
	}
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: inventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Receive", InventoryServer.Receive),
		unaryMethod("Pick", InventoryServer.Pick),
		unaryMethod("Quantity", InventoryServer.Quantity),
		unaryMethod("OpenAudit", InventoryServer.OpenAudit),
		unaryMethod("ScanAudit", InventoryServer.ScanAudit),
		unaryMethod("CloseAudit", InventoryServer.CloseAudit),
		unaryMethod("CommitAudit", InventoryServer.CommitAudit),
		unaryMethod("DiscardAudit", InventoryServer.DiscardAudit),
		unaryMethod("CreateItem", InventoryServer.CreateItem),
		unaryMethod("GetItem", InventoryServer.GetItem),
		unaryMethod("SearchItems", InventoryServer.SearchItems),
		unaryMethod("Labels", InventoryServer.Labels),
		unaryMethod("Import", InventoryServer.Import),
		unaryMethod("ImportItems", InventoryServer.ImportItems),
		unaryMethod("ExportStock", InventoryServer.ExportStock),
		unaryMethod("ExportAudit", InventoryServer.ExportAudit),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "History",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(HistoryRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(InventoryServer).History(in, &grpc.GenericServerStream[HistoryRequest, EventJSON]{ServerStream: stream})
			},
		},
	},
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

// InventoryClient calls the Inventory service with the JSON codec.
type InventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+inventoryServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) Receive(ctx context.Context, in *ReceiveRequest, opts ...grpc.CallOption) (*EventJSON, error) {
	return invoke[EventJSON](ctx, c.cc, "Receive", in, opts)
}

func (c *InventoryClient) Pick(ctx context.Context, in *PickRequest, opts ...grpc.CallOption) (*PickResponse, error) {
	return invoke[PickResponse](ctx, c.cc, "Pick", in, opts)
}

func (c *InventoryClient) Quantity(ctx context.Context, in *QuantityRequest, opts ...grpc.CallOption) (*QuantityResponse, error) {
	return invoke[QuantityResponse](ctx, c.cc, "Quantity", in, opts)
}

func (c *InventoryClient) OpenAudit(ctx context.Context, in *ActorRequest, opts ...grpc.CallOption) (*SessionJSON, error) {
	return invoke[SessionJSON](ctx, c.cc, "OpenAudit", in, opts)
}

func (c *InventoryClient) ScanAudit(ctx context.Context, in *AuditScanRequest, opts ...grpc.CallOption) (*ScanResponse, error) {
	return invoke[ScanResponse](ctx, c.cc, "ScanAudit", in, opts)
}

func (c *InventoryClient) CloseAudit(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*CloseAuditResponse, error) {
	return invoke[CloseAuditResponse](ctx, c.cc, "CloseAudit", in, opts)
}

func (c *InventoryClient) CommitAudit(ctx context.Context, in *ActorRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	return invoke[ApplyResponse](ctx, c.cc, "CommitAudit", in, opts)
}

func (c *InventoryClient) DiscardAudit(ctx context.Context, in *ActorRequest, opts ...grpc.CallOption) (*SessionJSON, error) {
	return invoke[SessionJSON](ctx, c.cc, "DiscardAudit", in, opts)
}

func (c *InventoryClient) CreateItem(ctx context.Context, in *ItemJSON, opts ...grpc.CallOption) (*ItemJSON, error) {
	return invoke[ItemJSON](ctx, c.cc, "CreateItem", in, opts)
}

func (c *InventoryClient) GetItem(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*ItemJSON, error) {
	return invoke[ItemJSON](ctx, c.cc, "GetItem", in, opts)
}

func (c *InventoryClient) SearchItems(ctx context.Context, in *ItemSearchRequest, opts ...grpc.CallOption) (*ItemsResponse, error) {
	return invoke[ItemsResponse](ctx, c.cc, "SearchItems", in, opts)
}

func (c *InventoryClient) Labels(ctx context.Context, in *LabelsRequest, opts ...grpc.CallOption) (*LabelsResponse, error) {
	return invoke[LabelsResponse](ctx, c.cc, "Labels", in, opts)
}

func (c *InventoryClient) Import(ctx context.Context, in *ImportRequest, opts ...grpc.CallOption) (*ImportResponse, error) {
	return invoke[ImportResponse](ctx, c.cc, "Import", in, opts)
}

func (c *InventoryClient) ImportItems(ctx context.Context, in *ImportRequest, opts ...grpc.CallOption) (*ImportResponse, error) {
	return invoke[ImportResponse](ctx, c.cc, "ImportItems", in, opts)
}

func (c *InventoryClient) ExportStock(ctx context.Context, in *ExportRequest, opts ...grpc.CallOption) (*CSVResponse, error) {
	return invoke[CSVResponse](ctx, c.cc, "ExportStock", in, opts)
}

func (c *InventoryClient) ExportAudit(ctx context.Context, in *ExportRequest, opts ...grpc.CallOption) (*CSVResponse, error) {
	return invoke[CSVResponse](ctx, c.cc, "ExportAudit", in, opts)
}

func (c *InventoryClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[EventJSON], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &InventoryServiceDesc.Streams[0], "/"+inventoryServiceName+"/History", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[HistoryRequest, EventJSON]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
