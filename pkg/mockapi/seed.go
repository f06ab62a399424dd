package mockapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/users"
)

// DefaultPassword is accepted for every seeded account.
const DefaultPassword = "password"

var seedNames = []string{
	"Ada Park",
	"Bruno Silva",
	"Chen Wei",
	"Dana Okafor",
	"Elif Demir",
}

var seedLines = []string{
	"Shipped the new onboarding flow today.",
	"Coffee first, then code review.",
	"Anyone else benchmarking the new runtime?",
	"Weekend hike photos coming soon.",
	"Pairing sessions beat long design docs.",
	"Reading about cache invalidation again.",
	"Small PRs, happy reviewers.",
	"The staging cluster is finally green.",
}

var seedComments = []string{
	"Nice one!",
	"Totally agree.",
	"Can you share more details?",
	"This made my day.",
}

// seed fills the store with deterministic users, posts and comments.
func (s *Server) seed() {
	base := s.opts.Now().UTC().Truncate(time.Minute)
	for i, name := range seedNames {
		id := fmt.Sprintf("u%d", i+1)
		bio := "Hi, I'm " + strings.Fields(name)[0] + "."
		p := &users.Profile{
			User: users.User{
				ID:        id,
				Name:      name,
				Email:     emailFor(name),
				Bio:       &bio,
				CreatedAt: base.Add(-time.Duration(365-i*30) * 24 * time.Hour),
			},
			FollowersCount: s.rng.Intn(500),
			FollowingCount: s.rng.Intn(300),
		}
		s.users[id] = p
		s.emails[p.Email] = id
	}
	s.viewer = "u1"

	for i := 0; i < s.opts.Posts; i++ {
		author := s.users[fmt.Sprintf("u%d", s.rng.Intn(len(seedNames))+1)]
		created := base.Add(-time.Duration(i*37) * time.Minute)
		p := &posts.Post{
			ID:         fmt.Sprintf("p%d", i+1),
			UserID:     author.ID,
			AuthorName: author.Name,
			Content:    seedLines[s.rng.Intn(len(seedLines))],
			LikesCount: s.rng.Intn(40),
			CreatedAt:  created,
			UpdatedAt:  created,
		}
		if i%7 == 0 {
			img := fmt.Sprintf("https://picsum.photos/seed/%s/600/400", p.ID)
			p.ImageURL = &img
		}
		for c := 0; c < s.rng.Intn(3); c++ {
			by := s.users[fmt.Sprintf("u%d", s.rng.Intn(len(seedNames))+1)]
			s.comments[p.ID] = append(s.comments[p.ID], posts.Comment{
				ID:         fmt.Sprintf("c%d-%d", i+1, c+1),
				PostID:     p.ID,
				UserID:     by.ID,
				AuthorName: by.Name,
				Content:    seedComments[s.rng.Intn(len(seedComments))],
				CreatedAt:  created.Add(time.Duration(c+1) * time.Minute),
			})
		}
		p.CommentsCount = len(s.comments[p.ID])
		s.posts = append(s.posts, p)
	}
}

func emailFor(name string) string {
	return strings.ToLower(strings.Fields(name)[0]) + "@hive.dev"
}

// issueToken records a new bearer token. Callers hold s.mu.
func (s *Server) issueToken(userID string) string {
	token := "mock-" + uuid.NewString()
	s.tokens[token] = userID
	return token
}
