package identity

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestNewSelectsProvider(t *testing.T) {
	p, err := New("", Options{})
	require.NoError(t, err)
	assert.IsType(t, None{}, p)

	p, err = New(ModeJWT, Options{JWTSecret: "s3cret"})
	require.NoError(t, err)
	assert.IsType(t, &JWTProvider{}, p)

	_, err = New(ModeJWT, Options{})
	assert.Error(t, err)

	_, err = New("ldap", Options{})
	assert.Error(t, err)
}

func TestNoneTrustsRegistration(t *testing.T) {
	identity, err := None{}.Verify(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Empty(t, identity)
}

func TestJWTProviderRoundTrip(t *testing.T) {
	p, err := NewJWTProvider("s3cret")
	require.NoError(t, err)

	token, err := p.Sign("alice", time.Minute)
	require.NoError(t, err)

	identity, err := p.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestJWTProviderFallsBackToSubject(t *testing.T) {
	p, err := NewJWTProvider("s3cret")
	require.NoError(t, err)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	identity, err := p.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "bob", identity)
}

func TestJWTProviderRejectsBadTokens(t *testing.T) {
	p, err := NewJWTProvider("s3cret")
	require.NoError(t, err)
	other, err := NewJWTProvider("different")
	require.NoError(t, err)

	forged, err := other.Sign("alice", time.Minute)
	require.NoError(t, err)
	expired, err := p.Sign("alice", -time.Minute)
	require.NoError(t, err)
	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "guest"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"forged":    forged,
		"expired":   expired,
		"anonymous": anonymous,
		"garbage":   "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = p.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

type verifier interface {
	verify(token string) (string, error)
}

type tokenTable map[string]string

func (t tokenTable) verify(token string) (string, error) {
	if identity, ok := t[token]; ok {
		return identity, nil
	}
	if token == "boom" {
		return "", status.Error(codes.Unavailable, "backend down")
	}
	return "", status.Error(codes.Unauthenticated, "unknown token")
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: "auth.AuthService",
	HandlerType: (*verifier)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "VerifyIdentity",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			req := &wrapperspb.StringValue{}
			if err := dec(req); err != nil {
				return nil, err
			}
			identity, err := srv.(verifier).verify(req.GetValue())
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(identity), nil
		},
	}},
}

func startAuthService(t *testing.T, table tokenTable) *GRPCProvider {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&authServiceDesc, table)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	p, err := NewGRPCProvider("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestGRPCProviderVerify(t *testing.T) {
	p := startAuthService(t, tokenTable{"tok-alice": "alice", "tok-empty": ""})
	var _ io.Closer = p
	ctx := context.Background()

	identity, err := p.Verify(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	_, err = p.Verify(ctx, "tok-unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.Verify(ctx, "tok-empty")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.Verify(ctx, "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = p.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
}
