package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/security"
	"github.com/good-yellow-bee/siemlite/internal/server"
)

// Ack is the server's answer for one event of a batch.
type Ack struct {
	// Index is the position of the event in the batch.
	Index  int
	ID     string
	Status string
	Alerts int
	Code   codes.Code
	Error  string
}

// Stored reports whether the server kept the event. An event can be stored
// and still carry an error when alert evaluation failed afterwards.
func (a Ack) Stored() bool {
	return a.ID != ""
}

// Sender delivers a batch of events and returns one ack per event the server
// answered. On a transport error the acks received so far are returned with
// the error.
type Sender interface {
	Send(ctx context.Context, events []*structpb.Struct) ([]Ack, error)
	Close() error
}

// GRPCSender streams batches over IngestService/IngestStream.
type GRPCSender struct {
	conn   *grpc.ClientConn
	client server.IngestClient
	token  string
}

// Dial connects to address. tlsCfg may be nil for a plaintext connection.
func Dial(address, token string, tlsCfg *security.ClientTLSConfig) (*GRPCSender, error) {
	var (
		creds credentials.TransportCredentials = insecure.NewCredentials()
		err   error
	)
	if tlsCfg != nil {
		if creds, err = security.LoadClientTLS(tlsCfg); err != nil {
			return nil, err
		}
	}
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return NewGRPCSender(conn, token), nil
}

// NewGRPCSender wraps an existing connection.
func NewGRPCSender(conn *grpc.ClientConn, token string) *GRPCSender {
	return &GRPCSender{conn: conn, client: server.NewIngestClient(conn), token: token}
}

// Send opens one stream per batch. Events are numbered from 1 in the
// sequence field so acks can be matched to them.
func (s *GRPCSender) Send(ctx context.Context, events []*structpb.Struct) ([]Ack, error) {
	ctx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(ctx, server.MachineTokenKey, s.token))
	defer cancel()

	stream, err := s.client.IngestStream(ctx)
	if err != nil {
		return nil, err
	}

	acks := make([]Ack, 0, len(events))
	done := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				done <- nil
				return
			}
			if err != nil {
				done <- err
				return
			}
			if ack, ok := ackFromStruct(msg, len(events)); ok {
				acks = append(acks, ack)
			}
		}
	}()

	for i, ev := range events {
		msg := proto.Clone(ev).(*structpb.Struct)
		if msg.Fields == nil {
			msg.Fields = make(map[string]*structpb.Value)
		}
		msg.Fields["sequence"] = structpb.NewNumberValue(float64(i + 1))
		// A failed Send means the stream broke; Recv reports why.
		if err := stream.Send(msg); err != nil {
			break
		}
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
	}

	err = <-done
	return acks, err
}

// Close closes the connection.
func (s *GRPCSender) Close() error {
	return s.conn.Close()
}

func ackFromStruct(msg *structpb.Struct, n int) (Ack, bool) {
	f := msg.GetFields()
	seq := int(f["sequence"].GetNumberValue())
	if seq < 1 || seq > n {
		return Ack{}, false
	}
	ack := Ack{
		Index:  seq - 1,
		ID:     f["id"].GetStringValue(),
		Status: f["status"].GetStringValue(),
		Alerts: int(f["alerts"].GetNumberValue()),
		Error:  f["error"].GetStringValue(),
	}
	if name := f["code"].GetStringValue(); name != "" {
		ack.Code = parseCode(name)
	}
	return ack, true
}

// parseCode maps a code name as produced by codes.Code.String.
func parseCode(name string) codes.Code {
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if c.String() == name {
			return c
		}
	}
	return codes.Unknown
}
