package api

import (
	"context"
	"time"

	"tovis/internal/models"
	"tovis/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	schedulingServiceName = "tovis.scheduling.v1.Scheduling"

	methodGetAvailability = "/" + schedulingServiceName + "/GetAvailability"
	methodResolveSession  = "/" + schedulingServiceName + "/ResolveSession"
	methodGetBooking      = "/" + schedulingServiceName + "/GetBooking"
)

type AvailabilityRequest struct {
	ProfessionalID int64     `json:"professional_id"`
	ServiceID      int64     `json:"service_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

type AvailabilityResponse struct {
	Slots []time.Time `json:"slots"`
}

type SessionRequest struct {
	ProfessionalID int64 `json:"professional_id"`
}

type BookingRequest struct {
	BookingID int64 `json:"booking_id"`
}

// SchedulingServer is the read-only RPC surface used by integrations.
type SchedulingServer interface {
	GetAvailability(ctx context.Context, req *AvailabilityRequest) (*AvailabilityResponse, error)
	ResolveSession(ctx context.Context, req *SessionRequest) (*models.SessionView, error)
	GetBooking(ctx context.Context, req *BookingRequest) (*models.Booking, error)
}

// SchedulingService implements SchedulingServer on top of the core services.
// The actor comes from the auth interceptor.
type SchedulingService struct {
	svc Services
}

func NewSchedulingService(svc Services) *SchedulingService {
	return &SchedulingService{svc: svc}
}

func (s *SchedulingService) GetAvailability(ctx context.Context, req *AvailabilityRequest) (*AvailabilityResponse, error) {
	if req.ProfessionalID <= 0 || req.ServiceID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "professional_id and service_id are required")
	}
	slots, err := s.svc.Availability.GetSlots(ctx, service.SlotQuery{
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		From:           req.From,
		To:             req.To,
	})
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []time.Time{}
	}
	return &AvailabilityResponse{Slots: slots}, nil
}

func (s *SchedulingService) ResolveSession(ctx context.Context, req *SessionRequest) (*models.SessionView, error) {
	if req.ProfessionalID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "professional_id is required")
	}
	actor, _ := ActorFrom(ctx)
	view, err := s.svc.Sessions.ResolveSession(ctx, actor, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *SchedulingService) GetBooking(ctx context.Context, req *BookingRequest) (*models.Booking, error) {
	if req.BookingID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "booking_id is required")
	}
	actor, _ := ActorFrom(ctx)
	return s.svc.Bookings.GetBooking(ctx, actor, req.BookingID)
}

func RegisterSchedulingServer(s grpc.ServiceRegistrar, srv SchedulingServer) {
	s.RegisterService(&schedulingServiceDesc, srv)
}

var schedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: schedulingServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: getAvailabilityHandler},
		{MethodName: "ResolveSession", Handler: resolveSessionHandler},
		{MethodName: "GetBooking", Handler: getBookingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tovis/scheduling/v1",
}

func getAvailabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AvailabilityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulingServer).GetAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAvailability}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulingServer).GetAvailability(ctx, req.(*AvailabilityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulingServer).ResolveSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResolveSession}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulingServer).ResolveSession(ctx, req.(*SessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getBookingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BookingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulingServer).GetBooking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetBooking}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulingServer).GetBooking(ctx, req.(*BookingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SchedulingClient calls the scheduling service with the JSON codec.
type SchedulingClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulingClient(cc grpc.ClientConnInterface) *SchedulingClient {
	return &SchedulingClient{cc: cc}
}

func (c *SchedulingClient) GetAvailability(ctx context.Context, req *AvailabilityRequest, opts ...grpc.CallOption) (*AvailabilityResponse, error) {
	out := new(AvailabilityResponse)
	if err := c.invoke(ctx, methodGetAvailability, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) ResolveSession(ctx context.Context, req *SessionRequest, opts ...grpc.CallOption) (*models.SessionView, error) {
	out := new(models.SessionView)
	if err := c.invoke(ctx, methodResolveSession, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) GetBooking(ctx context.Context, req *BookingRequest, opts ...grpc.CallOption) (*models.Booking, error) {
	out := new(models.Booking)
	if err := c.invoke(ctx, methodGetBooking, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
