package mockapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/auth"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
	"github.com/hivesocial/hive_sdk_go/pkg/users"
)

const sessionTTL = time.Hour

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Password == "" {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Email and password are required")
		return
	}
	s.mu.Lock()
	id, ok := s.emails[strings.ToLower(req.Email)]
	if !ok {
		s.mu.Unlock()
		s.fail(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "Invalid email or password")
		return
	}
	res := s.authResponse(id)
	s.mu.Unlock()
	s.ok(w, http.StatusOK, res, "Login successful")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeBody(r, &req); err != nil || req.Name == "" || req.Email == "" || req.Password == "" {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Name, email and password are required")
		return
	}
	email := strings.ToLower(req.Email)
	s.mu.Lock()
	if _, taken := s.emails[email]; taken {
		s.mu.Unlock()
		s.fail(w, http.StatusConflict, apierr.CodeValidation, "Email already registered")
		return
	}
	id := "u-" + uuid.NewString()
	s.users[id] = &users.Profile{User: users.User{
		ID:        id,
		Name:      req.Name,
		Email:     email,
		CreatedAt: s.opts.Now().UTC(),
	}}
	s.emails[email] = id
	res := s.authResponse(id)
	s.mu.Unlock()
	s.ok(w, http.StatusCreated, res, "Registration successful")
}

// authResponse signs userID in. Callers hold s.mu.
func (s *Server) authResponse(userID string) auth.Response {
	u := s.users[userID]
	return auth.Response{
		Session: auth.Session{
			UserID:       userID,
			AccessToken:  s.issueToken(userID),
			RefreshToken: "mock-refresh-" + uuid.NewString(),
			ExpiresAt:    s.opts.Now().UTC().Add(sessionTTL),
		},
		User: auth.UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL},
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		delete(s.tokens, strings.TrimSpace(token))
	}
	s.mu.Unlock()
	s.ok(w, http.StatusOK, nil, "Logged out successfully")
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	id, ok := s.viewerID(r)
	var u users.Profile
	if ok {
		u = *s.users[id]
	}
	s.mu.Unlock()
	if !ok {
		s.fail(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "Not authenticated")
		return
	}
	s.ok(w, http.StatusOK, map[string]any{
		"user":      auth.UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL},
		"expiresAt": s.opts.Now().UTC().Add(sessionTTL),
	}, "")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	id, ok := s.viewerID(r)
	var u users.User
	if ok {
		u = s.users[id].User
	}
	s.mu.Unlock()
	if !ok {
		s.fail(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "Not authenticated")
		return
	}
	s.ok(w, http.StatusOK, u, "")
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req users.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Invalid request body")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Name cannot be empty")
		return
	}
	s.mu.Lock()
	id, ok := s.viewerID(r)
	if !ok {
		s.mu.Unlock()
		s.fail(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "Not authenticated")
		return
	}
	p := s.users[id]
	if req.Name != nil {
		p.Name = *req.Name
		for _, post := range s.posts {
			if post.UserID == id {
				post.AuthorName = p.Name
			}
		}
	}
	if req.Bio != nil {
		bio := *req.Bio
		p.Bio = &bio
	}
	if req.AvatarURL != nil {
		avatar := *req.AvatarURL
		p.AvatarURL = &avatar
	}
	u := p.User
	s.mu.Unlock()
	s.ok(w, http.StatusOK, u, "Profile updated")
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	p, ok := s.users[id]
	var out users.Profile
	if ok {
		out = *p
		out.PostsCount = 0
		for _, post := range s.posts {
			if post.UserID == id {
				out.PostsCount++
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "User not found")
		return
	}
	s.ok(w, http.StatusOK, out, "")
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	if _, ok := s.users[id]; !ok {
		s.mu.Unlock()
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "User not found")
		return
	}
	page := s.postPage(r, id)
	s.mu.Unlock()
	s.ok(w, http.StatusOK, page, "")
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, "page", 0)
	size := intParam(r, "size", feed.DefaultLimit)
	s.mu.Lock()
	items := make([]feed.Item, 0, size)
	for _, p := range window(s.posts, page, size) {
		items = append(items, feed.Item{
			ID:         p.ID,
			UserID:     p.UserID,
			AuthorName: p.AuthorName,
			Content:    p.Content,
			ImageURL:   p.ImageURL,
			CreatedAt:  p.CreatedAt,
		})
	}
	s.mu.Unlock()
	s.ok(w, http.StatusOK, items, "")
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	page := s.postPage(r, r.URL.Query().Get("authorId"))
	s.mu.Unlock()
	s.ok(w, http.StatusOK, page, "")
}

// postPage pages the posts, optionally limited to one author. Callers hold
// s.mu.
func (s *Server) postPage(r *http.Request, authorID string) query.OffsetPage[posts.Post] {
	page := intParam(r, "page", 0)
	size := intParam(r, "size", feed.DefaultLimit)
	viewer := s.authorID(r)

	var matched []*posts.Post
	for _, p := range s.posts {
		if authorID == "" || p.UserID == authorID {
			matched = append(matched, p)
		}
	}
	out := query.OffsetPage[posts.Post]{
		Items:      []posts.Post{},
		Page:       page,
		Size:       size,
		TotalItems: len(matched),
		TotalPages: (len(matched) + size - 1) / size,
	}
	for _, p := range window(matched, page, size) {
		out.Items = append(out.Items, s.postView(p, viewer))
	}
	return out
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req posts.CreateRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Content is required")
		return
	}
	s.mu.Lock()
	author := s.users[s.authorID(r)]
	now := s.opts.Now().UTC()
	p := &posts.Post{
		ID:              "p-" + uuid.NewString(),
		UserID:          author.ID,
		AuthorName:      author.Name,
		AuthorAvatarURL: author.AvatarURL,
		Content:         req.Content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.ImageURL != "" {
		img := req.ImageURL
		p.ImageURL = &img
	}
	s.posts = append([]*posts.Post{p}, s.posts...)
	out := *p
	s.mu.Unlock()
	s.ok(w, http.StatusCreated, out, "Post created")
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	p := s.findPost(id)
	var out posts.Post
	if p != nil {
		viewer := s.authorID(r)
		out = s.postView(p, viewer)
	}
	s.mu.Unlock()
	if p == nil {
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "Post not found")
		return
	}
	s.ok(w, http.StatusOK, out, "")
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	found := false
	for i, p := range s.posts {
		if p.ID == id {
			s.posts = append(s.posts[:i:i], s.posts[i+1:]...)
			delete(s.comments, id)
			delete(s.likes, id)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "Post not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	s.setLike(w, r, true)
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	s.setLike(w, r, false)
}

func (s *Server) setLike(w http.ResponseWriter, r *http.Request, liked bool) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	p := s.findPost(id)
	viewer := s.authorID(r)
	if p == nil || s.likes[id][viewer] == liked {
		s.mu.Unlock()
		msg := "Post not found or already liked"
		if !liked {
			msg = "Post not found or not liked"
		}
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, msg)
		return
	}
	if liked {
		if s.likes[id] == nil {
			s.likes[id] = make(map[string]bool)
		}
		s.likes[id][viewer] = true
		p.LikesCount++
	} else {
		delete(s.likes[id], viewer)
		if p.LikesCount > 0 {
			p.LikesCount--
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	p := s.findPost(id)
	out := append([]posts.Comment{}, s.comments[id]...)
	s.mu.Unlock()
	if p == nil {
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "Post not found")
		return
	}
	s.ok(w, http.StatusOK, out, "")
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req posts.CommentRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		s.fail(w, http.StatusBadRequest, apierr.CodeValidation, "Content is required")
		return
	}
	s.mu.Lock()
	p := s.findPost(id)
	if p == nil {
		s.mu.Unlock()
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "Post not found")
		return
	}
	author := s.users[s.authorID(r)]
	c := posts.Comment{
		ID:              "c-" + uuid.NewString(),
		PostID:          id,
		UserID:          author.ID,
		AuthorName:      author.Name,
		AuthorAvatarURL: author.AvatarURL,
		Content:         req.Content,
		CreatedAt:       s.opts.Now().UTC(),
	}
	s.comments[id] = append(s.comments[id], c)
	p.CommentsCount = len(s.comments[id])
	s.mu.Unlock()
	s.ok(w, http.StatusCreated, c, "Comment added")
}

// findPost returns the stored post or nil. Callers hold s.mu.
func (s *Server) findPost(id string) *posts.Post {
	for _, p := range s.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// postView copies p with the viewer's like flag. Callers hold s.mu.
func (s *Server) postView(p *posts.Post, viewer string) posts.Post {
	out := *p
	out.IsLiked = viewer != "" && s.likes[p.ID][viewer]
	return out
}

func window[T any](items []T, page, size int) []T {
	start := page * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if name == "size" && n == 0 {
		return def
	}
	return n
}
