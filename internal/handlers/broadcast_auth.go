package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/sirupsen/logrus"
)

type channelAuthRequest struct {
	ChannelName string `json:"channel_name"`
	SocketID    string `json:"socket_id"`
}

type channelAuthResponse struct {
	ChannelData *broadcast.Presence `json:"channel_data"`
}

// BroadcastAuth answers the channel authorization handshake: 200 with the member payload
// for presence channels, 403 when the caller may not listen.
func (s *Server) BroadcastAuth(w http.ResponseWriter, r *http.Request) {
	var req channelAuthRequest
	err := decodeBody(r, &req, func(get func(string) string) {
		req.ChannelName = get("channel_name")
		req.SocketID = get("socket_id")
	})
	if err != nil || req.ChannelName == "" {
		badRequest(w, "channel_name is required")
		return
	}

	_, code, _, ok := broadcast.ParseChannel(req.ChannelName)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorBody{Message: "unknown channel"})
		return
	}
	rc, err := s.identify(w, r, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	presence, allowed, err := s.authorizer.Authorize(r.Context(), rc.caller, rc.sess, req.ChannelName)
	if err != nil && !errors.Is(err, broadcast.ErrUnknownChannel) {
		s.writeError(w, r, err)
		return
	}
	if !allowed {
		s.logger.WithFields(logrus.Fields{
			"channel": req.ChannelName,
			"user":    rc.caller.UserID(),
		}).Debug("channel authorization denied")
		writeJSON(w, http.StatusForbidden, errorBody{Message: "forbidden"})
		return
	}
	writeJSON(w, http.StatusOK, channelAuthResponse{ChannelData: presence})
}
