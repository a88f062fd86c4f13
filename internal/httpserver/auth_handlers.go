package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/waymark-labs/waymark/internal/auth"
	"github.com/waymark-labs/waymark/internal/store"
)

func (s *Server) handleKakaoLogin(w http.ResponseWriter, r *http.Request) {
	if s.kakao == nil {
		s.respondError(w, http.StatusNotImplemented, errors.New("kakao login disabled"))
		return
	}
	http.Redirect(w, r, s.kakao.AuthorizeURL(), http.StatusTemporaryRedirect)
}

func (s *Server) handleKakaoCallback(w http.ResponseWriter, r *http.Request) {
	if s.kakao == nil {
		s.respondError(w, http.StatusNotImplemented, errors.New("kakao login disabled"))
		return
	}
	code := r.URL.Query().Get("code")
	if strings.TrimSpace(code) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("authorization code required"))
		return
	}

	token, err := s.kakao.ExchangeCode(r.Context(), code)
	if err != nil {
		s.debugf("[auth] kakao token exchange failed: %v", err)
		s.respondError(w, http.StatusBadGateway, errors.New("kakao token exchange failed"))
		return
	}
	info, err := s.kakao.FetchUser(r.Context(), token.AccessToken)
	if err != nil {
		s.debugf("[auth] kakao profile fetch failed: %v", err)
		s.respondError(w, http.StatusBadGateway, errors.New("kakao profile fetch failed"))
		return
	}

	profileImage := info.ProfileImg
	if profileImage == "" {
		profileImage = s.defaultProfileImage
	}
	user, err := s.store.UpsertKakaoUser(r.Context(), info.ID, info.Nickname, profileImage)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	sessionToken, err := s.auth.IssueToken(auth.Claims{
		UserUID:      user.UID,
		Nickname:     user.Nickname,
		ProfileImage: user.ProfileImage,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cookieSecure,
		Expires:  time.Now().Add(s.auth.TTL()),
	})

	s.respondJSON(w, http.StatusOK, map[string]any{
		"code":          "200",
		"access_token":  sessionToken,
		"token_type":    "bearer",
		"user_id":       user.UID,
		"nickname":      user.Nickname,
		"profile_image": user.ProfileImage,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":            info.user.UID,
		"nickname":      info.user.Nickname,
		"profile_image": info.user.ProfileImage,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	user, err := s.store.UserByUID(r.Context(), info.user.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":            user.UID,
		"nickname":      user.Nickname,
		"profile_image": user.ProfileImage,
		"bio":           user.Profile,
	})
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdateUserProfile(r.Context(), info.user.UID, req.Profile); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
