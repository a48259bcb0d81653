package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/streaming"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// OutputService exposes card outputs over gRPC.
//
//	SetOutputs   {card, operation?: set|on|off|reset|all_on, on?: [...], off?: [...]}
//	GetState     {card}
//	WatchOutputs {card?}  streams every card event
type OutputService struct {
	manager  *devices.Manager
	streamer *streaming.EventStreamer
	logger   *zap.Logger
}

func NewOutputService(manager *devices.Manager, streamer *streaming.EventStreamer, logger *zap.Logger) *OutputService {
	return &OutputService{
		manager:  manager,
		streamer: streamer,
		logger:   logger,
	}
}

func (s *OutputService) card(req *structpb.Struct) (*devices.Card, error) {
	name := req.GetFields()["card"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "card is required")
	}
	card, ok := s.manager.GetCardByName(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "card %q not found", name)
	}
	return card, nil
}

func (s *OutputService) SetOutputs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	card, err := s.card(req)
	if err != nil {
		return nil, err
	}

	fields := req.GetFields()
	on, err := channelRefs(fields["on"])
	if err != nil {
		return nil, err
	}
	off, err := channelRefs(fields["off"])
	if err != nil {
		return nil, err
	}

	op := fields["operation"].GetStringValue()
	if op == "" {
		op = "set"
	}

	switch {
	case op == "on" && len(off) > 0:
		return nil, status.Error(codes.InvalidArgument, `operation "on" takes no off list`)
	case op == "off" && len(on) > 0:
		return nil, status.Error(codes.InvalidArgument, `operation "off" takes no on list`)
	case (op == "reset" || op == "all_on") && len(on)+len(off) > 0:
		return nil, status.Errorf(codes.InvalidArgument, "operation %q takes no channel lists", op)
	}

	var plan usbdo96.Plan
	switch op {
	case "set":
		plan, err = card.Set(ctx, on, off)
	case "on":
		plan, err = card.TurnOn(ctx, on...)
	case "off":
		plan, err = card.TurnOff(ctx, off...)
	case "reset":
		plan, err = card.Reset(ctx)
	case "all_on":
		plan, err = card.AllOn(ctx)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown operation %q", op)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	changed := make([]interface{}, 0, len(plan.Changed))
	for _, c := range plan.Changed {
		changed = append(changed, map[string]interface{}{"channel": int(c.Channel), "on": c.On})
	}

	return newStruct(map[string]interface{}{
		"card":        card.Name,
		"operation":   op,
		"changed":     changed,
		"frames":      len(plan.Frames),
		"clusters":    len(plan.Clusters),
		"on_channels": channelList(plan.Next.OnChannels()),
	})
}

func (s *OutputService) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	card, err := s.card(req)
	if err != nil {
		return nil, err
	}

	state := card.State()
	return newStruct(map[string]interface{}{
		"card":        card.Name,
		"open":        card.IsOpen(),
		"on_channels": channelList(state.OnChannels()),
		"last_c":      int(state.LastC()),
		"last_d":      int(state.LastD()),
	})
}

func (s *OutputService) WatchOutputs(req *structpb.Struct, stream OutputService_WatchOutputsServer) error {
	name := req.GetFields()["card"].GetStringValue()
	if name != streaming.AllCards {
		if _, ok := s.manager.GetCardByName(name); !ok {
			return status.Errorf(codes.NotFound, "card %q not found", name)
		}
	}

	eventCh := s.streamer.Subscribe(name)
	defer s.streamer.Unsubscribe(name, eventCh)

	s.logger.Debug("gRPC watcher subscribed", zap.String("card", name))

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}

			msg, err := eventStruct(event)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// channelRefs accepts a list of integral numbers and labels.
func channelRefs(v *structpb.Value) ([]types.ChannelRef, error) {
	if v == nil {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "channels must be a list")
	}

	refs := make([]types.ChannelRef, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		switch kind := item.GetKind().(type) {
		case *structpb.Value_NumberValue:
			n := kind.NumberValue
			if n != math.Trunc(n) {
				return nil, status.Errorf(codes.InvalidArgument, "channel %v is not an integer", n)
			}
			refs = append(refs, types.ChannelRef(strconv.Itoa(int(n))))
		case *structpb.Value_StringValue:
			refs = append(refs, types.ChannelRef(kind.StringValue))
		default:
			return nil, status.Error(codes.InvalidArgument, "channel must be a number or label")
		}
	}
	return refs, nil
}

func channelList(chs []usbdo96.Channel) []interface{} {
	out := make([]interface{}, len(chs))
	for i, ch := range chs {
		out[i] = int(ch)
	}
	return out
}

// eventStruct converts an event through its JSON form.
func eventStruct(event devices.ChangeEvent) (*structpb.Struct, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps card errors to gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, usbdo96.ErrOutOfRange), errors.Is(err, usbdo96.ErrConflictingRequest):
		code = codes.InvalidArgument
	case errors.Is(err, usbdo96.ErrNotOpen):
		code = codes.FailedPrecondition
	case errors.Is(err, devices.ErrCardNotFound):
		code = codes.NotFound
	case errors.Is(err, usbdo96.ErrDeviceNotFound), errors.Is(err, usbdo96.ErrAmbiguousDevice),
		errors.Is(err, usbdo96.ErrTransport):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
