package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/tendant/content-store/pkg/contentstore"
)

// object is the entity the CLI stores content for. Its bucket, when set,
// takes precedence over the configured default bucket.
type object struct {
	contentstore.Fields
	bucket string
}

func (o *object) ContentBucket() string { return o.bucket }

// Client runs CLI operations against a store
type Client struct {
	store  *contentstore.Store
	bucket string
}

// NewClient creates a client that places content in bucket (or the store's
// default bucket when empty)
func NewClient(store *contentstore.Store, bucket string) *Client {
	return &Client{store: store, bucket: bucket}
}

func (c *Client) object(id string) *object {
	return &object{Fields: contentstore.Fields{ID: id}, bucket: c.bucket}
}

// Put stores r under id, or under a new id when id is empty, and returns
// the entity with its id and length set
func (c *Client) Put(ctx context.Context, id string, r io.Reader) (*object, error) {
	obj := c.object(id)
	if err := c.store.SetContent(ctx, obj, r); err != nil {
		return nil, err
	}
	return obj, nil
}

// Get copies the content of id to w
func (c *Client) Get(ctx context.Context, id string, w io.Writer) (int64, error) {
	rc, found, err := c.store.GetContent(ctx, c.object(id))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("content %s: %w", id, contentstore.ErrNotFound)
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// Remove deletes the content of id. Missing content is not an error.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.store.UnsetContent(ctx, c.object(id))
}

// StatResult is the JSON form of a stat
type StatResult struct {
	ID           string     `json:"id"`
	Backend      string     `json:"backend"`
	Location     string     `json:"location"`
	Exists       bool       `json:"exists"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Stat describes the content of id
func (c *Client) Stat(ctx context.Context, id string) (*StatResult, error) {
	st, err := c.store.Stat(ctx, c.object(id))
	if err != nil {
		return nil, err
	}
	result := &StatResult{
		ID:       id,
		Backend:  c.store.Backend(),
		Location: st.Location,
		Exists:   st.Exists,
		Size:     st.Size,
	}
	if !st.LastModified.IsZero() {
		modified := st.LastModified
		result.LastModified = &modified
	}
	return result, nil
}

func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
