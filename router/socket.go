package router

import (
	"context"

	"realtalk-service/config"
	"realtalk-service/model"
	"realtalk-service/presence"
	"realtalk-service/realtime"
	"realtalk-service/socketio"

	"go.uber.org/zap"
)

var clientEvents = []string{
	realtime.EventJoinChat,
	realtime.EventLeaveChat,
	realtime.EventNewMessage,
	realtime.EventTyping,
	realtime.EventStopTyping,
	realtime.EventFriendRequest,
	realtime.EventFriendRequestResponse,
}

// Socket registers every authenticated connection with the presence registry
// and hands its events to a dedicated realtime client.
func Socket(ctx context.Context, server *socketio.Server, registry *presence.Registry, hub *realtime.Router, settings *config.Settings, logger *zap.Logger) {
	opts := realtime.ClientOptions{
		Timeout:    settings.RequestTimeout,
		TypingRate: settings.TypingRate,
	}

	server.OnConnection(func(conn *socketio.Conn, user *model.User) {
		client := hub.NewClient(conn, user.Profile(), opts)
		clientCtx, cancel := context.WithCancel(ctx)
		go client.Run(clientCtx)

		connectCtx, done := context.WithTimeout(ctx, settings.RequestTimeout)
		registry.Connect(connectCtx, user.ID, conn)
		done()
		logger.Debug("socket connected", zap.String("user", user.ID), zap.String("conn", conn.ID()))

		for _, event := range clientEvents {
			event := event
			conn.On(event, func(args ...any) {
				client.Dispatch(event, args...)
			})
		}

		conn.On("disconnect", func(...any) {
			client.Close()
			cancel()
			hub.LeaveAll(conn)

			disconnectCtx, done := context.WithTimeout(context.Background(), settings.RequestTimeout)
			defer done()
			if !registry.Disconnect(disconnectCtx, user.ID, conn) {
				logger.Debug("stale connection closed", zap.String("user", user.ID), zap.String("conn", conn.ID()))
			}
		})
	})
}
