package identity

import (
	"context"
	"errors"
	"fmt"
)

const (
	ModeNone = "none"
	ModeJWT  = "jwt"
	ModeGRPC = "grpc"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Provider turns a handshake token into a verified identity. An empty
// identity with a nil error means the connection is not authenticated and
// the identity carried by register is trusted.
type Provider interface {
	Verify(ctx context.Context, token string) (string, error)
}

// None accepts every connection without proving an identity.
type None struct{}

func (None) Verify(context.Context, string) (string, error) {
	return "", nil
}

// Options carries the settings of every provider mode.
type Options struct {
	JWTSecret string
	GRPCAddr  string
}

// New builds the provider for mode. Providers holding a connection also
// implement io.Closer.
func New(mode string, opts Options) (Provider, error) {
	switch mode {
	case "", ModeNone:
		return None{}, nil
	case ModeJWT:
		p, err := NewJWTProvider(opts.JWTSecret)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ModeGRPC:
		p, err := NewGRPCProvider(opts.GRPCAddr)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
