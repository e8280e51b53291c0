package metadata

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// DublinCoreNamespace is the namespace of the default schema.
const DublinCoreNamespace = "http://dublincore.org/documents/dcmi-terms/"

// defaultFields are registered with the default schema.
var defaultFields = [][2]string{
	{"contributor", ""},
	{"contributor", "author"},
	{"date", "accessioned"},
	{"date", "available"},
	{"date", "issued"},
	{"description", ""},
	{"description", "abstract"},
	{"description", "provenance"},
	{"format", "mimetype"},
	{"identifier", "uri"},
	{"language", "iso"},
	{"publisher", ""},
	{"rights", ""},
	{"subject", ""},
	{"title", ""},
	{"title", "alternative"},
	{"type", ""},
}

// Admin checks that the session principal administers the site.
type Admin interface {
	AuthorizeAdmin(s *session.Session) error
}

// Registry holds schemas and fields. An index of both is kept in memory and
// loaded from the store on first use.
type Registry struct {
	logger logrus.FieldLogger
	store  storage.Store
	admin  Admin

	mu      sync.RWMutex
	loaded  bool
	schemas map[uuid.UUID]content.MetadataSchema
	fields  map[uuid.UUID]content.MetadataField
}

func NewRegistry(logger logrus.FieldLogger, store storage.Store, admin Admin) *Registry {
	return &Registry{
		logger: logger.WithField("component", "metadata"),
		store:  store,
		admin:  admin,
	}
}

func (r *Registry) load(s *session.Session) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	schemas := map[uuid.UUID]content.MetadataSchema{}
	fields := map[uuid.UUID]content.MetadataField{}
	ctx := s.Context()
	err := r.store.Scan(ctx, storage.TableSchema, func(id uuid.UUID, row []byte) error {
		var v content.MetadataSchema
		if err := json.Unmarshal(row, &v); err != nil {
			return errors.Wrapf(err, "schema %s", id)
		}
		schemas[id] = v
		return nil
	})
	if err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	err = r.store.Scan(ctx, storage.TableField, func(id uuid.UUID, row []byte) error {
		var v content.MetadataField
		if err := json.Unmarshal(row, &v); err != nil {
			return errors.Wrapf(err, "field %s", id)
		}
		fields[id] = v
		return nil
	})
	if err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas, r.fields, r.loaded = schemas, fields, true
	return nil
}

// Invalidate drops the in-memory index.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
}

// EnsureDefaults registers the Dublin Core schema and its common fields if
// they are missing.
func (r *Registry) EnsureDefaults(s *session.Session) error {
	s.TurnOffAuthorization()
	defer s.RestoreAuthorization()

	dc, err := r.Schema(s, content.DefaultSchema)
	if err != nil {
		return err
	}
	if dc == nil {
		dc = &content.MetadataSchema{Name: content.DefaultSchema, Namespace: DublinCoreNamespace}
		if err := r.CreateSchema(s, dc); err != nil {
			return err
		}
	}
	for _, f := range defaultFields {
		have, err := r.Field(s, content.DefaultSchema, f[0], f[1])
		if err != nil {
			return err
		}
		if have != nil {
			continue
		}
		if err := r.CreateField(s, &content.MetadataField{SchemaID: dc.ID, Element: f[0], Qualifier: f[1]}); err != nil {
			return err
		}
	}
	return nil
}

// Schema returns the schema with the given short name, or nil.
func (r *Registry) Schema(s *session.Session, name string) (*content.MetadataSchema, error) {
	if err := r.load(s); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.schemas {
		if v.Name == name {
			found := v
			return &found, nil
		}
	}
	return nil, nil
}

// Schemas returns every schema ordered by name.
func (r *Registry) Schemas(s *session.Session) ([]content.MetadataSchema, error) {
	if err := r.load(s); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]content.MetadataSchema, 0, len(r.schemas))
	for _, v := range r.schemas {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) checkSchema(schema *content.MetadataSchema) error {
	for _, v := range r.schemas {
		if v.ID == schema.ID {
			continue
		}
		if v.Name == schema.Name {
			return rErrors.Errorf(rErrors.NonUniqueMetadata, "schema name %q is in use", schema.Name)
		}
		if v.Namespace == schema.Namespace {
			return rErrors.Errorf(rErrors.NonUniqueMetadata, "schema namespace %q is in use", schema.Namespace)
		}
	}
	return nil
}

// CreateSchema registers a schema. Name and namespace must be unique.
func (r *Registry) CreateSchema(s *session.Session, schema *content.MetadataSchema) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	if schema.Name == "" {
		return rErrors.New(rErrors.InvalidOperation, "schema name is required")
	}
	if err := r.load(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if schema.ID == uuid.Nil {
		schema.ID = uuid.New()
	}
	if err := r.checkSchema(schema); err != nil {
		return err
	}
	if err := r.put(s, storage.TableSchema, schema.ID, schema); err != nil {
		return err
	}
	r.schemas[schema.ID] = *schema
	return nil
}

// UpdateSchema rewrites a schema, keeping names unique.
func (r *Registry) UpdateSchema(s *session.Session, schema *content.MetadataSchema) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	if err := r.load(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[schema.ID]; !ok {
		return rErrors.Errorf(rErrors.NotFound, "schema %s", schema.ID)
	}
	if err := r.checkSchema(schema); err != nil {
		return err
	}
	if err := r.put(s, storage.TableSchema, schema.ID, schema); err != nil {
		return err
	}
	r.schemas[schema.ID] = *schema
	return nil
}

// DeleteSchema removes a schema that has no fields left.
func (r *Registry) DeleteSchema(s *session.Session, schema *content.MetadataSchema) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	if err := r.load(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.fields {
		if f.SchemaID == schema.ID {
			return rErrors.Errorf(rErrors.InvalidOperation, "schema %s still has fields", schema.Name)
		}
	}
	if err := r.store.Delete(s.Context(), storage.TableSchema, schema.ID); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	delete(r.schemas, schema.ID)
	return nil
}

// Field returns the field of a schema by element and qualifier, or nil.
func (r *Registry) Field(s *session.Session, schemaName, element, qualifier string) (*content.MetadataField, error) {
	schema, err := r.Schema(s, schemaName)
	if err != nil || schema == nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fields {
		if f.SchemaID == schema.ID && f.Element == element && f.Qualifier == qualifier {
			found := f
			return &found, nil
		}
	}
	return nil, nil
}

// FieldByID returns a field, or nil.
func (r *Registry) FieldByID(s *session.Session, id uuid.UUID) (*content.MetadataField, error) {
	if err := r.load(s); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fields[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// FieldsOf returns the fields of a schema ordered by element and qualifier.
func (r *Registry) FieldsOf(s *session.Session, schema *content.MetadataSchema) ([]content.MetadataField, error) {
	if err := r.load(s); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []content.MetadataField
	for _, f := range r.fields {
		if f.SchemaID == schema.ID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Element != out[j].Element {
			return out[i].Element < out[j].Element
		}
		return out[i].Qualifier < out[j].Qualifier
	})
	return out, nil
}

func (r *Registry) checkField(field *content.MetadataField) error {
	if _, ok := r.schemas[field.SchemaID]; !ok {
		return rErrors.Errorf(rErrors.InvalidOperation, "schema %s does not exist", field.SchemaID)
	}
	for _, f := range r.fields {
		if f.ID != field.ID && f.SchemaID == field.SchemaID && f.Element == field.Element && f.Qualifier == field.Qualifier {
			return rErrors.Errorf(rErrors.NonUniqueMetadata, "field %s.%s is in use", field.Element, field.Qualifier)
		}
	}
	return nil
}

// CreateField registers a field. Element and qualifier must be unique in
// the schema.
func (r *Registry) CreateField(s *session.Session, field *content.MetadataField) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	if field.Element == "" {
		return rErrors.New(rErrors.InvalidOperation, "field element is required")
	}
	if err := r.load(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	if err := r.checkField(field); err != nil {
		return err
	}
	if err := r.put(s, storage.TableField, field.ID, field); err != nil {
		return err
	}
	r.fields[field.ID] = *field
	return nil
}

// UpdateField rewrites a field, keeping it unique.
func (r *Registry) UpdateField(s *session.Session, field *content.MetadataField) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	if err := r.load(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fields[field.ID]; !ok {
		return rErrors.Errorf(rErrors.NotFound, "field %s", field.ID)
	}
	if err := r.checkField(field); err != nil {
		return err
	}
	if err := r.put(s, storage.TableField, field.ID, field); err != nil {
		return err
	}
	r.fields[field.ID] = *field
	return nil
}

// DeleteField removes a field no value refers to.
func (r *Registry) DeleteField(s *session.Session, field *content.MetadataField) error {
	if err := r.admin.AuthorizeAdmin(s); err != nil {
		return err
	}
	inUse := errors.New("in use")
	err := r.store.Scan(s.Context(), storage.TableValue, func(_ uuid.UUID, row []byte) error {
		var v content.MetadataValue
		if err := json.Unmarshal(row, &v); err != nil {
			return err
		}
		if v.FieldID == field.ID {
			return inUse
		}
		return nil
	})
	if err == inUse {
		return rErrors.Errorf(rErrors.InvalidOperation, "field %s.%s has values", field.Element, field.Qualifier)
	}
	if err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	if err := r.store.Delete(s.Context(), storage.TableField, field.ID); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fields, field.ID)
	return nil
}

// Resolver returns the FieldResolver used by reconciliation. A schema that
// is not registered falls back to the default schema; a field missing from
// the resolved schema is an InvalidOperation.
func (r *Registry) Resolver(s *session.Session) FieldResolver {
	return func(schema, element, qualifier string) (content.MetadataField, string, error) {
		if schema == "" {
			schema = content.DefaultSchema
		}
		have, err := r.Schema(s, schema)
		if err != nil {
			return content.MetadataField{}, "", err
		}
		if have == nil {
			schema = content.DefaultSchema
		}
		f, err := r.Field(s, schema, element, qualifier)
		if err != nil {
			return content.MetadataField{}, "", err
		}
		if f == nil {
			name := content.MetadataValue{Schema: schema, Element: element, Qualifier: qualifier}.Field()
			return content.MetadataField{}, "", rErrors.Errorf(rErrors.InvalidOperation, "unknown metadata field %s", name)
		}
		return *f, schema, nil
	}
}

func (r *Registry) put(s *session.Session, table string, id uuid.UUID, v interface{}) error {
	row, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.Put(s.Context(), table, id, row); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	return nil
}
