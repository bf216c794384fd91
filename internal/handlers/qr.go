package handlers

import (
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// LobbyQR renders a PNG QR code of the lobby's join link. ?size= picks the edge length.
func (s *Server) LobbyQR(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	size := defaultQRSize
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 {
		size = min(v, maxQRSize)
	}
	png, err := qrcode.Encode(s.lobbyURL(l.Code), qrcode.Medium, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
