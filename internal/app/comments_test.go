package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"mukit/api/internal/store"
)

func commentFixtureStore() *fakeStore {
	return &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			if id != "doc_1" {
				return store.Document{}, sql.ErrNoRows
			}
			return store.Document{ID: "doc_1", OwnerID: "usr_owner", IsPublic: true}, nil
		},
		getThreadFn: func(_ context.Context, id string) (store.CommentThread, error) {
			if id != "thr_1" {
				return store.CommentThread{}, sql.ErrNoRows
			}
			return store.CommentThread{ID: "thr_1", DocumentID: "doc_1"}, nil
		},
	}
}

func TestCreateThreadWithFirstComment(t *testing.T) {
	fs := commentFixtureStore()
	var thread store.CommentThread
	var comment store.Comment
	fs.insertThreadFn = func(_ context.Context, th store.CommentThread) error {
		thread = th
		return nil
	}
	fs.insertCommentFn = func(_ context.Context, c store.Comment) error {
		comment = c
		return nil
	}
	service := newTestService(fs)
	searcher := &fakeSearch{}
	service.search = searcher

	payload, err := service.CreateThread(context.Background(), testSession("usr_1"), CreateThreadInput{
		DocumentID: "doc_1",
		Position:   "block:intro",
		Content:    "What about the second paragraph?",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if thread.DocumentID != "doc_1" || thread.Position != "block:intro" {
		t.Fatalf("unexpected thread %+v", thread)
	}
	if comment.ThreadID != thread.ID || comment.AuthorID != "usr_1" {
		t.Fatalf("unexpected first comment %+v", comment)
	}
	comments, ok := payload["comments"].([]map[string]any)
	if !ok || len(comments) != 1 {
		t.Fatalf("expected one comment in payload, got %v", payload["comments"])
	}
	if len(searcher.indexedComments) != 1 {
		t.Fatalf("expected comment indexed, got %+v", searcher.indexedComments)
	}
}

func TestCreateThreadWithoutContentHasNoComments(t *testing.T) {
	fs := commentFixtureStore()
	service := newTestService(fs)

	payload, err := service.CreateThread(context.Background(), testSession("usr_1"), CreateThreadInput{
		DocumentID: "doc_1",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	comments, ok := payload["comments"].([]map[string]any)
	if !ok || len(comments) != 0 {
		t.Fatalf("expected empty comments, got %v", payload["comments"])
	}
}

func TestCreateCommentRequiresContent(t *testing.T) {
	service := newTestService(commentFixtureStore())

	_, err := service.CreateComment(context.Background(), testSession("usr_1"), CreateCommentInput{
		ThreadID: "thr_1",
		Content:  "   ",
	})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestCreateCommentOnPrivateDocumentDenied(t *testing.T) {
	fs := commentFixtureStore()
	fs.getDocumentFn = func(context.Context, string) (store.Document, error) {
		return store.Document{ID: "doc_1", OwnerID: "usr_owner", IsPublic: false}, nil
	}
	service := newTestService(fs)

	_, err := service.CreateComment(context.Background(), testSession("usr_outsider"), CreateCommentInput{
		ThreadID: "thr_1",
		Content:  "hello",
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateCommentAuthorOnly(t *testing.T) {
	fs := commentFixtureStore()
	fs.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cmt_1", ThreadID: "thr_1", AuthorID: "usr_author", Content: "original"}, nil
	}
	service := newTestService(fs)

	_, err := service.UpdateComment(context.Background(), testSession("usr_other"), "cmt_1", "edited")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestDeleteCommentByDocumentOwner(t *testing.T) {
	fs := commentFixtureStore()
	fs.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cmt_1", ThreadID: "thr_1", AuthorID: "usr_author"}, nil
	}
	service := newTestService(fs)
	searcher := &fakeSearch{}
	service.search = searcher

	if err := service.DeleteComment(context.Background(), testSession("usr_owner"), "cmt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(searcher.deletedComments) != 1 || searcher.deletedComments[0] != "cmt_1" {
		t.Fatalf("expected comment removed from index, got %+v", searcher.deletedComments)
	}
}

func TestDeleteCommentByStrangerDenied(t *testing.T) {
	fs := commentFixtureStore()
	fs.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cmt_1", ThreadID: "thr_1", AuthorID: "usr_author"}, nil
	}
	service := newTestService(fs)

	err := service.DeleteComment(context.Background(), testSession("usr_stranger"), "cmt_1")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestDeleteThreadOwnerOnlyAndClearsIndex(t *testing.T) {
	fs := commentFixtureStore()
	fs.listCommentsByThreadFn = func(context.Context, string) ([]store.Comment, error) {
		return []store.Comment{{ID: "cmt_1"}, {ID: "cmt_2"}}, nil
	}
	service := newTestService(fs)
	searcher := &fakeSearch{}
	service.search = searcher

	if err := service.DeleteThread(context.Background(), testSession("usr_owner"), "thr_1"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}
	if len(searcher.deletedComments) != 2 {
		t.Fatalf("expected both comments removed from index, got %+v", searcher.deletedComments)
	}

	err := service.DeleteThread(context.Background(), testSession("usr_other"), "thr_1")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}
