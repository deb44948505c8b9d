package comment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/root4loot/prshot/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Comment is an existing pull request comment.
type Comment struct {
	ID   int64
	Body string
}

// Store reads and writes pull request comments.
type Store interface {
	// ListComments returns every comment on the pull request, oldest first.
	ListComments(ctx context.Context, number int) ([]Comment, error)
	CreateComment(ctx context.Context, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, id int64, body string) error
	DeleteComment(ctx context.Context, id int64) error
}

// Upsert replaces the oldest comment carrying Marker with body, or creates a
// new comment when there is none. Further marker comments, left behind by
// earlier races, are deleted. It returns the comment id and whether it was created.
func Upsert(ctx context.Context, store Store, number int, body string, logger *logrus.Entry) (int64, bool, error) {
	if !strings.Contains(body, Marker) {
		return 0, false, errors.New("comment body does not contain the marker")
	}
	if number <= 0 {
		return 0, false, fmt.Errorf("invalid pull request number %d", number)
	}
	if logger == nil {
		logger = logging.New("comment", logging.ModeInteractive)
	}
	logger = logger.WithField("pr", number)

	comments, err := store.ListComments(ctx, number)
	if err != nil {
		return 0, false, fmt.Errorf("list comments: %w", err)
	}

	var ours []Comment
	for _, c := range comments {
		if strings.Contains(c.Body, Marker) {
			ours = append(ours, c)
		}
	}

	if len(ours) == 0 {
		id, err := store.CreateComment(ctx, number, body)
		if err != nil {
			return 0, false, fmt.Errorf("create comment: %w", err)
		}
		logger.WithField("comment", id).Info("comment created")
		return id, true, nil
	}

	keep := ours[0]
	if keep.Body != body {
		if err := store.UpdateComment(ctx, keep.ID, body); err != nil {
			return 0, false, fmt.Errorf("update comment %d: %w", keep.ID, err)
		}
		logger.WithField("comment", keep.ID).Info("comment updated")
	} else {
		logger.WithField("comment", keep.ID).Info("comment unchanged")
	}

	for _, dup := range ours[1:] {
		if err := store.DeleteComment(ctx, dup.ID); err != nil {
			logger.WithError(err).WithField("comment", dup.ID).Warn("could not delete duplicate comment")
			continue
		}
		logger.WithField("comment", dup.ID).Info("duplicate comment deleted")
	}

	return keep.ID, false, nil
}
