package registration

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/StricklySoft/ezsecurity/pkg/clients/minio"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Blobs is the subset of [minio.Client] the object store uses.
type Blobs interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Get(ctx context.Context, name string) ([]byte, bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

var _ Blobs = (*minio.Client)(nil)

const objectPrefix = "registrations/"

// ObjectStore keeps one JSON document per registration under
// registrations/<id>.json in an object bucket.
type ObjectStore struct {
	blobs Blobs
}

var _ Store = (*ObjectStore)(nil)

// NewObjectStore returns a store over blobs.
func NewObjectStore(blobs Blobs) *ObjectStore {
	return &ObjectStore{blobs: blobs}
}

func objectName(id string) string {
	return objectPrefix + id + ".json"
}

// Lookup implements [Store].
func (s *ObjectStore) Lookup(ctx context.Context, id string) (*Registration, error) {
	if strings.ContainsAny(id, "/\\") {
		return nil, sserr.AppNotRegistered(id)
	}
	data, found, err := s.blobs.Get(ctx, objectName(id))
	if err != nil {
		return nil, sserr.Upstream(err, "registration store")
	}
	if !found {
		return nil, sserr.AppNotRegistered(id)
	}
	var r Registration
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternal, "registration: corrupt record for %s", id)
	}
	return &r, nil
}

// Put stores a registration document.
func (s *ObjectStore) Put(ctx context.Context, r Registration) error {
	if r.ID == "" || strings.ContainsAny(r.ID, "/\\") {
		return sserr.Newf(sserr.CodeValidation, "registration: invalid security id %q", r.ID)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "registration: encode record")
	}
	if err := s.blobs.Put(ctx, objectName(r.ID), data, "application/json"); err != nil {
		return sserr.Upstream(err, "registration store")
	}
	return nil
}

// IDs lists the security ids with a stored document.
func (s *ObjectStore) IDs(ctx context.Context) ([]string, error) {
	names, err := s.blobs.List(ctx, objectPrefix)
	if err != nil {
		return nil, sserr.Upstream(err, "registration store")
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if path.Ext(n) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(n, objectPrefix), ".json"))
	}
	return ids, nil
}
