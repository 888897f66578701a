package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/policy"
	"github.com/centralreports/reportd/internal/posts"
)

// maxMultipartBodySize leaves room for the text fields next to the largest
// accepted image.
const maxMultipartBodySize = posts.MaxImageBytes + 1<<20

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// ActionResult is the JSON outcome of every form action. Errors are always
// reported here, never as an error page.
type ActionResult struct {
	Success  bool         `json:"success"`
	Error    string       `json:"error,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
	Post     *domain.Post `json:"post,omitempty"`
}

// MountActionRoutes registers the mutation actions other than login, which
// NewRouter mounts behind its own rate limit.
func MountActionRoutes(r chi.Router, srv *Server) {
	r.Post("/logout", srv.HandleLogout)
	r.Post("/posts/create", srv.HandleCreatePost)
	r.Post("/posts/update", srv.HandleUpdatePost)
	r.Post("/posts/delete", srv.HandleDeletePost)
}

func (s *Server) observeAction(action, outcome string) {
	if s.Metrics != nil {
		s.Metrics.ObserveAction(action, outcome)
	}
}

// actionOK writes a successful result.
func (s *Server) actionOK(w http.ResponseWriter, action string, res ActionResult) {
	res.Success = true
	s.observeAction(action, "ok")
	writeJSON(w, http.StatusOK, res)
}

// actionError recovers err into a failed result. Upstream text is passed
// through, everything else gets its fixed user message.
func (s *Server) actionError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status, code := classify(err)
	s.observeAction(action, code)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "action failed", "action", action, "error", err)
	} else {
		slog.InfoContext(r.Context(), "action rejected", "action", action, "error", err)
	}
	writeJSON(w, status, ActionResult{Error: domain.UserMessage(err)})
}

func rejectLoginAttempt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, ActionResult{Error: "Too many sign-in attempts. Please wait a minute and try again."})
}

// parseActionForm reads an urlencoded or multipart body.
func parseActionForm(r *http.Request) error {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	return nil
}

// formImage returns the uploaded "image" file, or nil when none was sent.
// The caller closes the returned file.
func formImage(r *http.Request) (*posts.Image, multipart.File, error) {
	file, hdr, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if hdr.Size == 0 {
		file.Close()
		return nil, nil, nil
	}
	return &posts.Image{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        file,
	}, file, nil
}

// limitBody caps the request body for the action's expected encoding.
func limitBody(w http.ResponseWriter, r *http.Request, multipartAllowed bool) {
	limit := int64(maxFormBodySize)
	if multipartAllowed {
		limit = maxMultipartBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
}

// HandleLogin verifies credentials, opens a session and returns where the
// caller belongs. An orphaned unit admin is signed in but told they are not
// assigned to a unit instead of being routed anywhere.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	const action = "login"
	limitBody(w, r, false)
	if err := parseActionForm(r); err != nil {
		s.actionError(w, r, action, err)
		return
	}

	res, err := s.Auth.SignIn(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	auth.SetSessionCookie(w, s.Cookie, res.Token, res.ExpiresAt)

	dest, err := policy.LoginDestination(res.Identity)
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	slog.InfoContext(r.Context(), "signed in", "user_id", res.Identity.UserID(), "role", string(res.Identity.Role()))
	s.actionOK(w, action, ActionResult{Redirect: dest})
}

// HandleLogout revokes the session, clears the cookie and routes to the
// login page. A failed revocation is logged; the cookie is cleared anyway.
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	const action = "logout"
	if err := s.Auth.SignOut(r.Context(), auth.TokenFromRequest(r, s.Cookie)); err != nil {
		slog.WarnContext(r.Context(), "sign out failed", "error", err)
	}
	auth.ClearSessionCookie(w, s.Cookie)
	s.actionOK(w, action, ActionResult{Redirect: policy.PathLogin})
}

// HandleCreatePost publishes a post from a form with an optional image.
func (s *Server) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	const action = "create_post"
	id := auth.IdentityFromContext(r.Context())
	if err := policy.RequireAuthenticated(id); err != nil {
		s.actionError(w, r, action, err)
		return
	}
	limitBody(w, r, true)
	if err := parseActionForm(r); err != nil {
		s.actionError(w, r, action, err)
		return
	}
	img, file, err := formImage(r)
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	if file != nil {
		defer file.Close()
	}

	post, err := s.Mutations.Create(r.Context(), id, posts.CreateInput{
		UnitID:   r.FormValue("unit_id"),
		Title:    r.FormValue("title"),
		Content:  r.FormValue("content"),
		ImageURL: r.FormValue("image_url"),
		Image:    img,
	})
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	s.actionOK(w, action, ActionResult{Redirect: policy.UnitDashboardPath(post.UnitID), Post: post})
}

// HandleUpdatePost edits a post from a form with an optional new image.
func (s *Server) HandleUpdatePost(w http.ResponseWriter, r *http.Request) {
	const action = "update_post"
	id := auth.IdentityFromContext(r.Context())
	if err := policy.RequireAuthenticated(id); err != nil {
		s.actionError(w, r, action, err)
		return
	}
	limitBody(w, r, true)
	if err := parseActionForm(r); err != nil {
		s.actionError(w, r, action, err)
		return
	}
	img, file, err := formImage(r)
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	if file != nil {
		defer file.Close()
	}

	post, err := s.Mutations.Update(r.Context(), id, posts.UpdateInput{
		ID:              r.FormValue("id"),
		UnitID:          r.FormValue("unit_id"),
		Title:           r.FormValue("title"),
		Content:         r.FormValue("content"),
		ImageURL:        r.FormValue("image_url"),
		CurrentImageURL: r.FormValue("current_image_url"),
		Image:           img,
	})
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	s.actionOK(w, action, ActionResult{Redirect: policy.UnitDashboardPath(post.UnitID), Post: post})
}

// HandleDeletePost removes a post.
func (s *Server) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	const action = "delete_post"
	id := auth.IdentityFromContext(r.Context())
	if err := policy.RequireAuthenticated(id); err != nil {
		s.actionError(w, r, action, err)
		return
	}
	limitBody(w, r, false)
	if err := parseActionForm(r); err != nil {
		s.actionError(w, r, action, err)
		return
	}

	post, err := s.Mutations.Delete(r.Context(), id, posts.DeleteInput{
		ID:     r.FormValue("id"),
		UnitID: r.FormValue("unit_id"),
	})
	if err != nil {
		s.actionError(w, r, action, err)
		return
	}
	s.actionOK(w, action, ActionResult{Redirect: policy.UnitDashboardPath(post.UnitID)})
}
