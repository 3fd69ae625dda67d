package connect

import (
	"context"
	"crypto/subtle"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

var errInvalidToken = errors.New("invalid admin token")

// AdminAuthInterceptor validates the admin token on every admin call,
// unary and streaming alike. Clients built with it attach the token instead.
type AdminAuthInterceptor struct {
	token string
}

var _ connect.Interceptor = (*AdminAuthInterceptor)(nil)

// NewAdminAuthInterceptor creates an interceptor for the given token.
func NewAdminAuthInterceptor(token string) *AdminAuthInterceptor {
	return &AdminAuthInterceptor{token: token}
}

// WrapUnary checks incoming unary calls and signs outgoing ones.
func (i *AdminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(AdminTokenHeader, i.token)
			return next(ctx, req)
		}
		if err := i.check(req.Header(), req.Spec().Procedure); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient signs outgoing streams.
func (i *AdminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(AdminTokenHeader, i.token)
		return conn
	}
}

// WrapStreamingHandler checks incoming streams.
func (i *AdminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.check(conn.RequestHeader(), conn.Spec().Procedure); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *AdminAuthInterceptor) check(header http.Header, procedure string) error {
	token := header.Get(AdminTokenHeader)
	if token == "" || i.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) != 1 {
		zlog.Warn().Msgf("admin call rejected: procedure=%s", procedure)
		return connect.NewError(connect.CodeUnauthenticated, errInvalidToken)
	}
	return nil
}
