// Copyright 2024-2026 Aiku AI

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	headerKey       = "x-key"
	headerTimestamp = "x-timestamp"
	headerToken     = "x-token"
)

// Sign returns the x-token value for a timestamp header.
func Sign(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// requireHMAC checks the x-key, x-timestamp and x-token headers. The token
// is the hex HMAC-SHA256 of the timestamp keyed with the secret key, and the
// timestamp must be within the configured skew of the server clock.
func (s *Server) requireHMAC(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())
		key := r.Header.Get(headerKey)
		timestamp := r.Header.Get(headerTimestamp)
		token := r.Header.Get(headerToken)

		if key == "" || timestamp == "" || token == "" || s.cfg.PublicKey == "" {
			s.unauthorized(w, http.StatusUnauthorized)
			return
		}
		if !hmac.Equal([]byte(key), []byte(s.cfg.PublicKey)) {
			log.Debug().Msg("Rejected request with unknown key")
			s.unauthorized(w, http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			s.unauthorized(w, http.StatusBadRequest)
			return
		}
		if skew := s.now().Sub(time.Unix(ts, 0)).Abs(); skew > s.cfg.TimestampSkew {
			log.Debug().Dur("skew", skew).Msg("Rejected request with stale timestamp")
			s.unauthorized(w, http.StatusUnauthorized)
			return
		}
		if !hmac.Equal([]byte(token), []byte(Sign(s.cfg.SecretKey, timestamp))) {
			log.Debug().Msg("Rejected request with bad signature")
			s.unauthorized(w, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, status int) {
	s.writeJSON(w, status, response{Error: "Unauthorized."})
}
