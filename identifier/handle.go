package identifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

const handleCounter = "handle"

// handleNamespace derives the row key of a handle.
var handleNamespace = uuid.MustParse("2e4b1c8a-5a0f-4d3e-9a55-6f0c1d2b7e11")

// DefaultHandleTypes receive handles unless configured otherwise.
var DefaultHandleTypes = []content.Type{content.TypeCommunity, content.TypeCollection, content.TypeItem}

type handleRecord struct {
	Handle       string       `json:"handle"`
	ResourceType content.Type `json:"resourceType"`
	ResourceID   uuid.UUID    `json:"resourceID"`
}

// HandleProvider mints handle-style identifiers, "<prefix>/<n>", with n
// taken from a store counter. Items only receive a handle once archived.
type HandleProvider struct {
	store  storage.Store
	prefix string
	types  map[content.Type]bool
}

var _ Provider = (*HandleProvider)(nil)

// NewHandleProvider returns a provider for the given types, or
// DefaultHandleTypes when none are given.
func NewHandleProvider(store storage.Store, prefix string, types ...content.Type) *HandleProvider {
	if len(types) == 0 {
		types = DefaultHandleTypes
	}
	p := &HandleProvider{store: store, prefix: prefix, types: map[content.Type]bool{}}
	for _, t := range types {
		p.types[t] = true
	}
	return p
}

func handleKey(handle string) uuid.UUID {
	return uuid.NewSHA1(handleNamespace, []byte(handle))
}

func (p *HandleProvider) owns(id string) bool {
	return strings.HasPrefix(id, p.prefix+"/")
}

func (p *HandleProvider) Supports(o content.Object) bool {
	if !p.types[o.Type()] {
		return false
	}
	if item, ok := o.(*content.Item); ok {
		return item.InArchive
	}
	return true
}

func (p *HandleProvider) Mint(s *session.Session, o content.Object) (string, error) {
	for _, id := range o.ExternalIdentifiers() {
		if p.owns(id) {
			return "", nil
		}
	}
	ctx := s.Context()
	n, err := p.store.Next(ctx, handleCounter)
	if err != nil {
		return "", rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	handle := fmt.Sprintf("%s/%d", p.prefix, n)
	row, err := json.Marshal(handleRecord{Handle: handle, ResourceType: o.Type(), ResourceID: o.ID()})
	if err != nil {
		return "", err
	}
	if err := p.store.Put(ctx, storage.TableHandle, handleKey(handle), row); err != nil {
		return "", rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	return handle, nil
}

func (p *HandleProvider) Release(s *session.Session, o content.Object) error {
	for _, id := range o.ExternalIdentifiers() {
		if !p.owns(id) {
			continue
		}
		if err := p.store.Delete(s.Context(), storage.TableHandle, handleKey(id)); err != nil {
			return rErrors.NewWithError(rErrors.StorageFailure, err)
		}
	}
	return nil
}

func (p *HandleProvider) Resolve(s *session.Session, id string) (content.Type, uuid.UUID, bool, error) {
	if !p.owns(id) {
		return 0, uuid.Nil, false, nil
	}
	row, err := p.store.Get(s.Context(), storage.TableHandle, handleKey(id))
	if err != nil {
		return 0, uuid.Nil, false, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	if row == nil {
		return 0, uuid.Nil, false, nil
	}
	var rec handleRecord
	if err := json.Unmarshal(row, &rec); err != nil {
		return 0, uuid.Nil, false, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	return rec.ResourceType, rec.ResourceID, true, nil
}
