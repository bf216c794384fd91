// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the broadcast socket.
const (
	TooManySubscriptionsError = 3000 // Client subscribed to more channels than one socket may hold.
	InvalidFrameError         = 3001 // Client kept sending frames that are not JSON objects.
	SlowConsumerError         = 3002 // Client fell behind and missed events; reconnect to resync.
)
