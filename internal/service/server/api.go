package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"blind_relay/internal/model"
	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/service/relay"
	"blind_relay/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type (
	registerRequest struct {
		Username  string `json:"username" validate:"required,displayname"`
		Password  string `json:"password" validate:"omitempty,min=6,max=72"`
		PublicKey string `json:"publicKey" validate:"required"`
	}

	registerResponse struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}

	loginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	loginResponse struct {
		DisplayName string `json:"displayName"`
		PublicKey   string `json:"publicKey"`
		Token       string `json:"token,omitempty"`
	}

	userResponse struct {
		DisplayName string `json:"displayName"`
		PublicKey   string `json:"publicKey"`
	}

	userSummary struct {
		DisplayName string `json:"displayName"`
	}

	messageRequest struct {
		From       string `json:"from" validate:"required,displayname"`
		To         string `json:"to" validate:"required,displayname"`
		IV         string `json:"iv" validate:"required"`
		Ciphertext string `json:"ciphertext" validate:"required"`
	}

	messageResponse struct {
		ID        string `json:"id"`
		Delivered int    `json:"delivered"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func (s *HttpServer) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		var (
			identity *model.Identity
			err      error
		)
		if req.Password == "" {
			identity, err = s.directory.Register(r.Context(), req.Username, []byte(req.PublicKey))
		} else {
			identity, err = s.directory.RegisterAccount(r.Context(), req.Username, req.Password, []byte(req.PublicKey))
		}
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, registerResponse{ID: identity.ID, DisplayName: identity.DisplayName})
	}
}

func (s *HttpServer) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		identity, err := s.directory.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}

		res := loginResponse{DisplayName: identity.DisplayName, PublicKey: string(identity.PublicKey)}
		if s.tokens != nil {
			res.Token, err = s.tokens.Issue(identity.DisplayName)
			if err != nil {
				log.Error("issue token failed", zap.Error(err))
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) LookupUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		identity, err := s.directory.Get(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse{DisplayName: identity.DisplayName, PublicKey: string(identity.PublicKey)})
	}
}

func (s *HttpServer) SearchUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", model.ErrInvalidInput))
				return
			}
			limit = n
		}

		names, err := s.directory.Search(r.Context(), q.Get("search"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(names, func(name string, _ int) userSummary {
			return userSummary{DisplayName: name}
		}))
	}
}

// History serves one of: ?me=&with= for a direct conversation, ?room= for a
// room, or ?chatId= for a raw conversation key. With tokens required, direct
// history is only reachable through me and with.
func (s *HttpServer) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var key model.ConversationKey
		switch {
		case q.Get("me") != "" && q.Get("with") != "":
			if !s.authorize(w, r, q.Get("me")) {
				return
			}
			key = model.DirectKey(q.Get("me"), q.Get("with"))
		case q.Get("room") != "":
			if err := model.ValidateRoomID(q.Get("room")); err != nil {
				writeError(w, err)
				return
			}
			key = model.RoomKey(q.Get("room"))
		case q.Get("chatId") != "":
			key = model.ConversationKey(q.Get("chatId"))
			// a direct key is a hash anyone can compute, so it names no caller
			if s.opts.RequireToken && key.IsDirect() {
				writeError(w, fmt.Errorf("%w: use me and with for direct history", model.ErrUnauthorized))
				return
			}
		default:
			writeError(w, fmt.Errorf("%w: me and with, room, or chatId is required", model.ErrInvalidInput))
			return
		}

		envs, err := s.store.ReadAll(r.Context(), key)
		if err != nil {
			log.Error("read history failed", zap.String("conversation", key.String()), zap.Error(err))
			writeError(w, err)
			return
		}
		if envs == nil {
			envs = []model.Envelope{}
		}
		writeJSON(w, http.StatusOK, envs)
	}
}

func (s *HttpServer) Conversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := r.URL.Query().Get("me")
		if me == "" {
			writeError(w, fmt.Errorf("%w: me is required", model.ErrInvalidInput))
			return
		}
		if !s.authorize(w, r, me) {
			return
		}

		peers, err := s.store.Peers(r.Context(), me)
		if err != nil {
			log.Error("list conversations failed", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(peers, func(name string, _ int) userSummary {
			return userSummary{DisplayName: name}
		}))
	}
}

// PostMessage is the HTTP path of a dm frame: persist, then forward live.
func (s *HttpServer) PostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if !s.authorize(w, r, req.From) {
			return
		}
		if err := frame.ValidatePayload(req.IV, req.Ciphertext); err != nil {
			writeError(w, err)
			return
		}

		env, deliveries, err := s.hub.SendDirect(r.Context(), req.From, req.To, req.IV, req.Ciphertext)
		if err != nil {
			writeError(w, err)
			return
		}
		delivered := lo.CountBy(deliveries, func(d relay.Delivery) bool { return d.Delivered })
		writeJSON(w, http.StatusOK, messageResponse{ID: env.ID, Delivered: delivered})
	}
}

// authorize checks the bearer token against identity when tokens are required.
func (s *HttpServer) authorize(w http.ResponseWriter, r *http.Request, identity string) bool {
	if !s.opts.RequireToken {
		return true
	}
	if s.tokens == nil {
		writeError(w, model.ErrUnauthorized)
		return false
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.tokens.VerifyIdentity(identity, token); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", model.ErrInvalidInput))
		return false
	}
	if err := model.Validator().Struct(dst); err != nil {
		writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = model.ErrStorage.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}
