// Package publish runs post, thread and timeline operations against X on
// behalf of a session, recovering once from an expired access token.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/authflow"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/session"
)

// MaxThreadPosts bounds the number of posts in one thread
const MaxThreadPosts = 25

// API is the subset of the X client used for publishing
type API interface {
	CreatePost(ctx context.Context, auth platform.Authorizer, text, replyToID string) (*platform.Post, error)
	RecentPosts(ctx context.Context, auth platform.Authorizer, userID string, limit int) ([]platform.Post, error)
	FetchRecentPosts(ctx context.Context, auth platform.Authorizer, userID string, limit int) []platform.Post
}

// PostResult is a published post
type PostResult struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ThreadResult lists the posts of a thread in publishing order
type ThreadResult struct {
	Posted int          `json:"posted"`
	Posts  []PostResult `json:"tweets"`
}

// Publisher wraps API calls with the refresh-and-retry policy
type Publisher struct {
	flow authflow.Flow
	api  API
}

// NewPublisher creates a Publisher
func NewPublisher(flow authflow.Flow, api API) *Publisher {
	return &Publisher{flow: flow, api: api}
}

// SubmitPost validates and publishes one post
func (p *Publisher) SubmitPost(ctx context.Context, s *session.Session, w session.Writer, text string) (*PostResult, error) {
	if err := platform.ValidateText(text); err != nil {
		return nil, err
	}

	var post *platform.Post
	err := p.withRefresh(ctx, s, w, func(auth platform.Authorizer) error {
		var err error
		post, err = p.api.CreatePost(ctx, auth, text, "")
		return err
	})
	if err != nil {
		postsPublished.WithLabelValues("single", "error").Inc()
		return nil, err
	}

	postsPublished.WithLabelValues("single", "ok").Inc()
	return &PostResult{ID: post.ID, Text: post.Text}, nil
}

// ValidateThread checks every post of a thread before any is sent
func ValidateThread(texts []string) error {
	if len(texts) == 0 {
		return apperr.Invalid("Thread must contain at least one post")
	}
	if len(texts) > MaxThreadPosts {
		return apperr.Invalid("Thread cannot have more than %d posts", MaxThreadPosts)
	}
	for i, text := range texts {
		if err := platform.ValidateText(text); err != nil {
			var verr *apperr.ValidationError
			if errors.As(err, &verr) {
				return apperr.Invalid("Post %d: %s", i+1, verr.Message)
			}
			return err
		}
	}
	return nil
}

// SubmitThread publishes texts as a reply chain, one post at a time. Only
// the first post may trigger a token refresh. When a later post fails the
// result holds the published prefix and the error is a
// *apperr.PartialThreadError; those posts must not be sent again.
func (p *Publisher) SubmitThread(ctx context.Context, s *session.Session, w session.Writer, texts []string) (*ThreadResult, error) {
	if err := ValidateThread(texts); err != nil {
		return nil, err
	}

	result := &ThreadResult{Posts: make([]PostResult, 0, len(texts))}

	var first *platform.Post
	err := p.withRefresh(ctx, s, w, func(auth platform.Authorizer) error {
		var err error
		first, err = p.api.CreatePost(ctx, auth, texts[0], "")
		return err
	})
	if err != nil {
		postsPublished.WithLabelValues("thread", "error").Inc()
		return nil, err
	}
	result.add(first)
	postsPublished.WithLabelValues("thread", "ok").Inc()

	creds := s.Credentials()
	if creds == nil {
		return result, &apperr.PartialThreadError{Posted: result.Posted, Err: apperr.ErrNotAuthenticated}
	}
	auth := p.flow.Authorizer(*creds)

	replyTo := first.ID
	for i, text := range texts[1:] {
		if err := ctx.Err(); err != nil {
			return result, p.partial(result, i+2, err)
		}

		post, err := p.api.CreatePost(ctx, auth, text, replyTo)
		if err != nil {
			postsPublished.WithLabelValues("thread", "error").Inc()
			return result, p.partial(result, i+2, err)
		}
		postsPublished.WithLabelValues("thread", "ok").Inc()
		result.add(post)
		replyTo = post.ID
	}

	log.LogInfoWithFields("publish", "Thread published", map[string]any{
		"posts": result.Posted,
	})
	return result, nil
}

func (r *ThreadResult) add(post *platform.Post) {
	r.Posts = append(r.Posts, PostResult{ID: post.ID, Text: post.Text})
	r.Posted = len(r.Posts)
}

func (p *Publisher) partial(result *ThreadResult, failedAt int, err error) error {
	partialThreads.Inc()
	log.LogWarnWithFields("publish", "Thread stopped before completion", map[string]any{
		"posted":    result.Posted,
		"failed_at": failedAt,
		"error":     err,
	})
	return &apperr.PartialThreadError{Posted: result.Posted, Err: err}
}

// RecentPosts returns the user's latest posts. It is a read: when X
// rejects the credentials one refresh is attempted, but the session is never
// destroyed here and every failure degrades to an empty list.
func (p *Publisher) RecentPosts(ctx context.Context, s *session.Session, w session.Writer, limit int) ([]platform.Post, error) {
	creds, id := s.Credentials(), s.Identity()
	if creds == nil || id == nil || s.State() != session.Authenticated {
		return nil, apperr.ErrNotAuthenticated
	}

	posts, err := p.api.RecentPosts(ctx, p.flow.Authorizer(*creds), id.ID, limit)
	switch {
	case err == nil:
		return posts, nil
	case !platform.IsAuthError(err) || !p.canRefresh(creds):
		log.LogWarnWithFields("publish", "Recent posts unavailable", map[string]any{
			"user_id": id.ID,
			"error":   err,
		})
		return []platform.Post{}, nil
	}

	if rerr := p.refresh(ctx, s, w); rerr != nil {
		log.LogWarnWithFields("publish", "Recent posts unavailable, refresh failed", map[string]any{
			"user_id": id.ID,
			"error":   rerr,
		})
		return []platform.Post{}, nil
	}

	// last attempt, nothing left to recover with
	return p.api.FetchRecentPosts(ctx, p.flow.Authorizer(*s.Credentials()), id.ID, limit), nil
}

// withRefresh runs call with the session's credentials. If X rejects them
// and the flow can refresh, the token is refreshed, persisted and call is
// retried exactly once. When recovery is impossible the session is
// destroyed and ErrSessionExpired returned. A rejection of the retried call
// means X refuses the request itself, so the session is kept.
func (p *Publisher) withRefresh(ctx context.Context, s *session.Session, w session.Writer, call func(platform.Authorizer) error) error {
	creds := s.Credentials()
	if creds == nil || s.State() != session.Authenticated {
		return apperr.ErrNotAuthenticated
	}

	err := call(p.flow.Authorizer(*creds))
	if err == nil || !platform.IsAuthError(err) {
		return err
	}

	if !p.canRefresh(creds) {
		log.LogInfoWithFields("publish", "Credentials rejected and cannot be refreshed", map[string]any{
			"flow": p.flow.Kind(),
		})
		return p.expire(s, w, err)
	}

	if rerr := p.refresh(ctx, s, w); rerr != nil {
		if errors.Is(rerr, errSaveRefreshed) {
			return rerr
		}
		return p.expire(s, w, rerr)
	}

	err = call(p.flow.Authorizer(*s.Credentials()))
	if platform.IsAuthError(err) {
		return fmt.Errorf("%w: %w", apperr.ErrRejectedAfterRefresh, err)
	}
	return err
}

var errSaveRefreshed = errors.New("saving refreshed credentials")

func (p *Publisher) canRefresh(creds *session.Credentials) bool {
	return p.flow.CanRefresh() && creds.RefreshToken != ""
}

// refresh renews the session's credentials and persists them
func (p *Publisher) refresh(ctx context.Context, s *session.Session, w session.Writer) error {
	if err := p.flow.Refresh(ctx, s); err != nil {
		tokenRefreshes.WithLabelValues("error").Inc()
		return err
	}
	tokenRefreshes.WithLabelValues("ok").Inc()

	if err := w.Save(s); err != nil {
		return fmt.Errorf("%w: %w", errSaveRefreshed, err)
	}
	return nil
}

func (p *Publisher) expire(s *session.Session, w session.Writer, cause error) error {
	if derr := w.Destroy(s); derr != nil {
		log.LogErrorWithFields("publish", "Failed to destroy session", map[string]any{
			"error": derr,
		})
	}
	return fmt.Errorf("%w: %v", apperr.ErrSessionExpired, cause)
}
