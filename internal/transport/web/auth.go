package web

import (
	"net/http"

	"github.com/avstrong/bnb/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  *identity.User `json:"user"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var input identity.RegisterInput
	if !s.decode(w, r, &input) {
		return
	}

	// Admins are created through the seed command, never through the API.
	user, err := s.svc.Identity.Register(r.Context(), input, identity.RoleGuest)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, user, err := s.svc.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Identity.SignOut(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFromContext(r.Context())

	user, err := s.svc.Identity.GetUser(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, user)
}
