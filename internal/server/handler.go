package server

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

// Ingester stores and evaluates events.
type Ingester interface {
	Ingest(ctx context.Context, machine *models.Machine, transport ingest.Transport, in *ingest.Event) (*ingest.Result, error)
}

// Handler implements IngestServer.
type Handler struct {
	ingester Ingester
	logger   *zap.SugaredLogger
}

// NewHandler creates a gRPC ingest handler.
func NewHandler(ingester Ingester, logger *zap.SugaredLogger) *Handler {
	return &Handler{ingester: ingester, logger: logger}
}

// Ingest stores one event for the authenticated machine.
func (h *Handler) Ingest(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	machine := MachineFromContext(ctx)
	if machine == nil {
		return nil, status.Error(codes.Unauthenticated, "machine credentials required")
	}
	res, err := h.ingest(ctx, machine, msg)
	if err != nil {
		return nil, err
	}
	return resultToStruct(res), nil
}

// IngestStream reads events until the client closes the stream. Every event
// gets one response carrying its sequence; failures are reported in the
// response and the stream continues.
func (h *Handler) IngestStream(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	metrics.GRPCStreamsActive.Inc()
	defer metrics.GRPCStreamsActive.Dec()

	ctx := stream.Context()
	machine := MachineFromContext(ctx)
	if machine == nil {
		return status.Error(codes.Unauthenticated, "machine credentials required")
	}
	h.logger.Debugw("ingest stream opened", "machine_id", machine.ID)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			h.logger.Debugw("ingest stream closed by client", "machine_id", machine.ID)
			return nil
		}
		if err != nil {
			return err
		}

		ack := &structpb.Struct{Fields: map[string]*structpb.Value{
			"sequence": structpb.NewNumberValue(sequenceOf(msg)),
		}}
		res, err := h.ingest(ctx, machine, msg)
		if res != nil {
			for k, v := range resultToStruct(res).GetFields() {
				ack.Fields[k] = v
			}
		}
		if err != nil {
			st := status.Convert(err)
			ack.Fields["code"] = structpb.NewStringValue(st.Code().String())
			ack.Fields["error"] = structpb.NewStringValue(st.Message())
		}
		if err := stream.Send(ack); err != nil {
			return err
		}
	}
}

// ingest runs one event through the ingester and maps its error to a gRPC
// status. On evaluation failure after storage, the result is returned along
// with an Unavailable status carrying the event ID.
func (h *Handler) ingest(ctx context.Context, machine *models.Machine, msg *structpb.Struct) (*ingest.Result, error) {
	event, err := eventFromStruct(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := h.ingester.Ingest(ctx, machine, ingest.TransportGRPC, event)
	switch {
	case err == nil:
		return res, nil
	case ingest.IsStored(res, err):
		st := status.New(codes.Unavailable, "event stored but alert evaluation failed")
		if errors.Is(err, alerting.ErrContention) {
			st = status.New(codes.Unavailable, "event stored but alert evaluation hit contention")
		}
		detail := &structpb.Struct{Fields: map[string]*structpb.Value{
			"event_id": structpb.NewStringValue(res.ID),
		}}
		if withDetail, derr := st.WithDetails(detail); derr == nil {
			st = withDetail
		}
		return res, st.Err()
	case errors.Is(err, alerting.ErrInvalidEvent):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, alerting.ErrUnknownMachine):
		return nil, status.Error(codes.Unauthenticated, "machine is not registered or inactive")
	case errors.Is(err, alerting.ErrContention):
		return nil, status.Error(codes.Unavailable, "alert contention, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		h.logger.Errorw("ingest event", "machine_id", machine.ID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
}

// StoredEventID returns the event ID attached to an Unavailable status, if any.
func StoredEventID(err error) string {
	for _, d := range status.Convert(err).Details() {
		if s, ok := d.(*structpb.Struct); ok {
			if id := s.GetFields()["event_id"].GetStringValue(); id != "" {
				return id
			}
		}
	}
	return ""
}
