package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/types"
)

const subscribeMethod = "/geyser.Geyser/Subscribe"

var subscribeDesc = grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCSource opens feed sessions against the chain feed's gRPC endpoint.
// Authentication is an x-api-key metadata header on the subscribe stream.
type GRPCSource struct {
	endpoint    string
	apiKey      string
	insecure    bool
	dialTimeout time.Duration
}

// NewGRPCSource creates a source from the feed configuration.
func NewGRPCSource(cfg config.FeedConfig) *GRPCSource {
	return &GRPCSource{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		insecure:    cfg.Insecure,
		dialTimeout: cfg.DialTimeout(),
	}
}

// Subscribe implements Source. The returned session owns its connection;
// closing the session closes the connection.
func (s *GRPCSource) Subscribe(ctx context.Context, interestID string, pred types.Predicate) (Session, error) {
	creds := grpc.WithTransportCredentials(insecure.NewCredentials())
	if !s.insecure {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	conn, err := grpc.NewClient(s.endpoint,
		creds,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, mapFeedError(fmt.Errorf("failed to create feed client: %w", err))
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.apiKey != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "x-api-key", s.apiKey)
	}

	stream, err := conn.NewStream(streamCtx, &subscribeDesc, subscribeMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, mapFeedError(fmt.Errorf("failed to open subscribe stream: %w", err))
	}

	if err := stream.SendMsg(buildSubscribeRequest(interestID, pred)); err != nil {
		cancel()
		conn.Close()
		return nil, mapFeedError(fmt.Errorf("failed to send subscribe request: %w", err))
	}

	// The session is acknowledged when the feed returns its headers.
	// Bound that wait; a stuck connection must not stall a mutation.
	ackCh := make(chan error, 1)
	go func() {
		_, err := stream.Header()
		ackCh <- err
	}()
	select {
	case err := <-ackCh:
		if err != nil {
			cancel()
			conn.Close()
			return nil, mapFeedError(fmt.Errorf("subscription rejected: %w", err))
		}
	case <-time.After(s.dialTimeout):
		cancel()
		conn.Close()
		return nil, fmt.Errorf("feed connection timed out after %s", s.dialTimeout)
	case <-ctx.Done():
		cancel()
		conn.Close()
		return nil, ctx.Err()
	}

	feedLogger := log.WithComponent("feed")
	feedLogger.Debug().
		Str("interest_id", interestID).
		Str("endpoint", s.endpoint).
		Msg("Subscription acknowledged")

	return &grpcSession{
		conn:   conn,
		stream: stream,
		cancel: cancel,
	}, nil
}

type grpcSession struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	closed bool
}

// Recv implements Session. Heartbeat pings are consumed here; callers see
// only account and transaction updates.
func (s *grpcSession) Recv() (types.Event, error) {
	for {
		var u update
		if err := s.stream.RecvMsg(&u); err != nil {
			if s.closed || status.Code(err) == codes.Canceled {
				return nil, ErrSessionClosed
			}
			return nil, mapFeedError(err)
		}

		switch {
		case u.Account != nil:
			return u.Account.toEvent(), nil
		case u.Transaction != nil:
			return u.Transaction.toEvent(), nil
		default:
			// Ping or an update kind we do not materialize.
			continue
		}
	}
}

// Close implements Session.
func (s *grpcSession) Close() error {
	s.closed = true
	s.cancel()
	return s.conn.Close()
}

// mapFeedError wraps errors whose status codes mean reconnecting is
// pointless.
func mapFeedError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.Unimplemented:
		return &FatalError{Err: err}
	default:
		return err
	}
}

// jsonCodec is the wire codec for the subscribe stream.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
