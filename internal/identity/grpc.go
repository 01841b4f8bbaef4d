package identity

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-relay/internal/observability"
)

// VerifyIdentityMethod is the unary RPC exposed by the auth service. The
// request and response are plain string wrappers so no generated stubs are
// needed.
const VerifyIdentityMethod = "/auth.AuthService/VerifyIdentity"

// GRPCProvider asks a remote auth service to verify tokens.
type GRPCProvider struct {
	conn *grpc.ClientConn
}

// NewGRPCProvider dials addr lazily. Extra dial options are appended after
// the defaults.
func NewGRPCProvider(addr string, opts ...grpc.DialOption) (*GRPCProvider, error) {
	if addr == "" {
		return nil, fmt.Errorf("auth grpc address is required")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial auth service: %w", err)
	}
	return &GRPCProvider{conn: conn}, nil
}

func (p *GRPCProvider) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	resp := &wrapperspb.StringValue{}
	if err := p.conn.Invoke(ctx, VerifyIdentityMethod, wrapperspb.String(token), resp); err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.InvalidArgument, codes.NotFound:
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return "", fmt.Errorf("verify identity: %w", err)
	}
	if resp.GetValue() == "" {
		return "", ErrInvalidToken
	}
	return resp.GetValue(), nil
}

func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
