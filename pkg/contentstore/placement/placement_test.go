package placement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-store/pkg/contentstore"
)

type doc struct {
	contentstore.Fields
}

type bucketedDoc struct {
	contentstore.Fields
	Bucket string
}

func (d *bucketedDoc) ContentBucket() string { return d.Bucket }

type tenantDoc struct {
	contentstore.Fields
	Tenant string
}

func TestLocate_DefaultRule(t *testing.T) {
	s := New(WithDefaultBucket("default-bucket"))

	loc, err := s.Locate(&doc{}, "abc")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Bucket: "default-bucket", Key: "abc"}, loc)

	loc, err = s.Locate(&bucketedDoc{Bucket: "own"}, "abc")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Bucket: "own", Key: "abc"}, loc)

	// an entity bucket left empty falls back to the default
	loc, err = s.Locate(&bucketedDoc{}, "abc")
	require.NoError(t, err)
	assert.Equal(t, "default-bucket", loc.Bucket)
}

func TestLocate_RegisteredConverter(t *testing.T) {
	s := New()
	Register(s, func(e *tenantDoc, id string) (contentstore.Location, error) {
		return contentstore.Location{Bucket: "tenant-" + e.Tenant, Key: e.Tenant + "/" + id}, nil
	})

	loc, err := s.Locate(&tenantDoc{Tenant: "acme"}, "42")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Bucket: "tenant-acme", Key: "acme/42"}, loc)

	// other types keep the default rule
	loc, err = s.Locate(&doc{}, "42")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Key: "42"}, loc)
}

func TestLocate_ConverterErrorIsConfiguration(t *testing.T) {
	s := New()
	Register(s, func(e *doc, id string) (contentstore.Location, error) {
		return contentstore.Location{}, errors.New("no tenant")
	})
	_, err := s.Locate(&doc{}, "1")
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestRequireBucket(t *testing.T) {
	s := New(RequireBucket())

	_, err := s.Locate(&doc{}, "1")
	assert.ErrorIs(t, err, contentstore.ErrBucketNotSet)
	assert.ErrorIs(t, err, contentstore.ErrAccess)

	_, err = s.LocateID("1")
	assert.ErrorIs(t, err, contentstore.ErrBucketNotSet)

	loc, err := s.Locate(&bucketedDoc{Bucket: "b"}, "1")
	require.NoError(t, err)
	assert.Equal(t, "b", loc.Bucket)
}

func TestLocateID(t *testing.T) {
	s := New(WithDefaultBucket("fallback"), WithIDConverter(SplitBucketKey))

	loc, err := s.LocateID("photos/2024/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Bucket: "photos", Key: "2024/cat.jpg"}, loc)

	loc, err = s.LocateID("plain-id")
	require.NoError(t, err)
	assert.Equal(t, contentstore.Location{Bucket: "fallback", Key: "plain-id"}, loc)
}

func TestLocate_NilEntity(t *testing.T) {
	_, err := New().Locate(nil, "1")
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}
