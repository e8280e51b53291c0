package metadata

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// Values loads, synchronizes and deletes the metadata values of objects.
// Value rows are indexed by owner through the ObjectMetadata relation.
type Values struct {
	logger   logrus.FieldLogger
	store    storage.Store
	registry *Registry
}

func NewValues(logger logrus.FieldLogger, store storage.Store, registry *Registry) *Values {
	return &Values{
		logger:   logger.WithField("component", "metadata"),
		store:    store,
		registry: registry,
	}
}

// Persisted returns the stored values of owner ordered by field and place.
func (v *Values) Persisted(s *session.Session, owner uuid.UUID) ([]content.MetadataValue, error) {
	ctx := s.Context()
	ids, err := v.store.Children(ctx, storage.ObjectMetadata, owner)
	if err != nil {
		return nil, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	values := make([]content.MetadataValue, 0, len(ids))
	for _, id := range ids {
		row, err := v.store.Get(ctx, storage.TableValue, id)
		if err != nil {
			return nil, rErrors.NewWithError(rErrors.StorageFailure, err)
		}
		if row == nil {
			continue
		}
		var mv content.MetadataValue
		if err := json.Unmarshal(row, &mv); err != nil {
			return nil, rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "metadata value %s", id))
		}
		values = append(values, mv)
	}
	sort.SliceStable(values, func(i, j int) bool {
		fi, fj := values[i].Field(), values[j].Field()
		if fi != fj {
			return fi < fj
		}
		return values[i].Place < values[j].Place
	})
	return values, nil
}

// Load replaces the in-memory values of o with the stored ones.
func (v *Values) Load(s *session.Session, o content.Object) error {
	values, err := v.Persisted(s, o.ID())
	if err != nil {
		return err
	}
	o.SetMetadataValues(values)
	return nil
}

// Sync reconciles the in-memory values of o against the stored ones and
// applies the effects. It reports whether anything was written. On return
// the values of o carry their identifiers and places.
func (v *Values) Sync(s *session.Session, o content.Object) (bool, error) {
	persisted, err := v.Persisted(s, o.ID())
	if err != nil {
		return false, err
	}
	effects, result, err := Reconcile(o.ID(), persisted, o.MetadataValues(), v.registry.Resolver(s))
	if err != nil {
		return false, err
	}
	for _, e := range effects {
		if err := v.apply(s, o.ID(), e); err != nil {
			return false, err
		}
	}
	o.SetMetadataValues(result)
	if len(effects) > 0 {
		v.logger.WithFields(logrus.Fields{"owner": o.ID(), "effects": len(effects)}).Debug("Metadata reconciled")
	}
	return len(effects) > 0, nil
}

func (v *Values) apply(s *session.Session, owner uuid.UUID, e Effect) error {
	ctx := s.Context()
	var err error
	switch e.Op {
	case OpDelete:
		if err = v.store.Unlink(ctx, storage.ObjectMetadata, owner, e.Value.ID); err == nil {
			err = v.store.Delete(ctx, storage.TableValue, e.Value.ID)
		}
	case OpCreate, OpUpdatePlace:
		var row []byte
		if row, err = json.Marshal(e.Value); err != nil {
			return err
		}
		if err = v.store.Put(ctx, storage.TableValue, e.Value.ID, row); err == nil && e.Op == OpCreate {
			err = v.store.Link(ctx, storage.ObjectMetadata, owner, e.Value.ID)
		}
	}
	return rErrors.NewWithError(rErrors.StorageFailure, err)
}

// DeleteAll removes every stored value of owner.
func (v *Values) DeleteAll(s *session.Session, owner uuid.UUID) error {
	persisted, err := v.Persisted(s, owner)
	if err != nil {
		return err
	}
	for _, mv := range persisted {
		if err := v.apply(s, owner, Effect{Op: OpDelete, Value: mv}); err != nil {
			return err
		}
	}
	return nil
}
