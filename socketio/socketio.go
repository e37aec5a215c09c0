package socketio

import (
	"context"
	"strings"
	"time"

	"realtalk-service/config"
	"realtalk-service/model"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// Authenticator resolves a handshake credential to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*model.User, error)
}

// Server is the socket.io endpoint mounted on the REST app.
type Server struct {
	server  *socket.Server
	auth    Authenticator
	timeout time.Duration
	logger  *zap.Logger
}

func Init(app *fiber.App, settings *config.Settings, auth Authenticator, logger *zap.Logger) *Server {
	log.DEBUG = settings.LogLevel == "debug"

	options := socket.DefaultServerOptions()
	options.SetServeClient(false)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(45 * time.Second)
	options.SetCors(&types.Cors{
		Origin:      settings.CorsOrigin,
		Credentials: true,
	})

	s := &Server{
		server:  socket.NewServer(nil, nil),
		auth:    auth,
		timeout: settings.RequestTimeout,
		logger:  logger,
	}
	s.server.Use(s.authenticate)

	app.Get("/socket.io/", adaptor.HTTPHandler(s.server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(s.server.ServeHandler(options)))

	return s
}

// authenticate rejects the handshake before the connection is registered
// anywhere when the credential does not resolve to a user.
func (s *Server) authenticate(client *socket.Socket, next func(*socket.ExtendedError)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	user, err := s.auth.Authenticate(ctx, credential(client))
	if err != nil {
		s.logger.Debug("socket handshake rejected", zap.String("socket", string(client.Id())), zap.Error(err))
		next(socket.NewExtendedError("authentication failed", map[string]any{"message": err.Error()}))
		return
	}

	client.SetData(user)
	next(nil)
}

// credential reads the token from the handshake auth payload, falling back
// to the "token" query parameter.
func credential(client *socket.Socket) string {
	if auth, ok := client.Handshake().Auth.(map[string]any); ok {
		if token, ok := auth["token"].(string); ok && token != "" {
			return strings.TrimPrefix(token, "Bearer ")
		}
	}
	token, _ := client.Conn().Request().Query().Get("token")
	return strings.TrimPrefix(token, "Bearer ")
}

// OnConnection calls fn for every authenticated connection.
func (s *Server) OnConnection(fn func(conn *Conn, user *model.User)) {
	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		user, ok := client.Data().(*model.User)
		if !ok {
			client.Disconnect(true)
			return
		}
		fn(&Conn{socket: client}, user)
	})
}

func (s *Server) Close() {
	s.server.Close(nil)
}

// Conn adapts a socket.io socket to the connection interface used by the
// presence registry and the realtime router.
type Conn struct {
	socket *socket.Socket
}

func (c *Conn) ID() string { return string(c.socket.Id()) }

func (c *Conn) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

// On registers a handler for a client event.
func (c *Conn) On(event string, fn func(args ...any)) {
	c.socket.On(event, fn)
}
