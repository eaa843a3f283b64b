package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// RemoteStore is a Store backed by the anchor service.
type RemoteStore struct {
	base string
}

// NewRemoteStore returns a store talking to the anchor service at base,
// e.g. "http://127.0.0.1:8090".
func NewRemoteStore(base string) *RemoteStore {
	return &RemoteStore{base: strings.TrimRight(base, "/")}
}

func (s *RemoteStore) anchorURL(id string) string {
	return s.base + "/anchors/" + url.PathEscape(id)
}

// Put uploads rec, replacing any record with the same id.
func (s *RemoteStore) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("anchor id required")
	}
	return cluster.PutJSON(ctx, s.anchorURL(rec.ID), rec, nil)
}

// Get fetches a record. A 404 from the service maps to ErrNotFound.
func (s *RemoteStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	if err := cluster.GetJSON(ctx, s.anchorURL(id), &rec); err != nil {
		return Record{}, notFound(err)
	}
	return rec, nil
}

// Delete removes a record. Deleting an unknown id is not an error.
func (s *RemoteStore) Delete(ctx context.Context, id string) error {
	err := cluster.DeleteJSON(ctx, s.anchorURL(id))
	if errors.Is(notFound(err), ErrAnchorNotFound) {
		return nil
	}
	return err
}

// List returns the ids of all stored records.
func (s *RemoteStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := cluster.GetJSON(ctx, s.base+"/anchors", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// notFound maps a 404 from the service to ErrAnchorNotFound.
func notFound(err error) error {
	var se *cluster.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return ErrAnchorNotFound
	}
	return err
}
