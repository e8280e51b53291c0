package dao

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// FormatDAO is the bitstream format registry. Mutations require an
// administrator. The Unknown format always exists and cannot be deleted.
type FormatDAO struct {
	r *Repository
}

func (d *FormatDAO) ensureUnknown(s *session.Session) (*content.BitstreamFormat, error) {
	f, err := d.FindByShortDescription(s, content.UnknownFormat)
	if err != nil || f != nil {
		return f, err
	}
	f = &content.BitstreamFormat{
		ID:               uuid.New(),
		ShortDescription: content.UnknownFormat,
		Description:      "Unknown data format",
		MIMEType:         "application/octet-stream",
		SupportLevel:     content.SupportUnknown,
	}
	return f, d.put(s, f)
}

func (d *FormatDAO) put(s *session.Session, f *content.BitstreamFormat) error {
	row, err := json.Marshal(f)
	if err != nil {
		return errors.Wrapf(err, "format %s", f.ID)
	}
	return storageFailure(d.r.store.Put(s.Context(), storage.TableFormat, f.ID, row))
}

// All returns every format ordered by short description.
func (d *FormatDAO) All(s *session.Session) ([]*content.BitstreamFormat, error) {
	var out []*content.BitstreamFormat
	err := d.r.store.Scan(s.Context(), storage.TableFormat, func(id uuid.UUID, row []byte) error {
		f := &content.BitstreamFormat{}
		if err := json.Unmarshal(row, f); err != nil {
			return errors.Wrapf(err, "format %s", id)
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortDescription < out[j].ShortDescription })
	return out, nil
}

// Retrieve returns the format or nil.
func (d *FormatDAO) Retrieve(s *session.Session, id uuid.UUID) (*content.BitstreamFormat, error) {
	row, err := d.r.store.Get(s.Context(), storage.TableFormat, id)
	if err != nil {
		return nil, storageFailure(err)
	}
	if row == nil {
		return nil, nil
	}
	f := &content.BitstreamFormat{}
	if err := json.Unmarshal(row, f); err != nil {
		return nil, storageFailure(errors.Wrapf(err, "format %s", id))
	}
	return f, nil
}

// FindByShortDescription returns the format with the given short
// description or nil.
func (d *FormatDAO) FindByShortDescription(s *session.Session, desc string) (*content.BitstreamFormat, error) {
	all, err := d.All(s)
	if err != nil {
		return nil, err
	}
	for _, f := range all {
		if f.ShortDescription == desc {
			return f, nil
		}
	}
	return nil, nil
}

// FindByMIMEType returns the first non-internal format of a MIME type or
// nil.
func (d *FormatDAO) FindByMIMEType(s *session.Session, mime string) (*content.BitstreamFormat, error) {
	all, err := d.All(s)
	if err != nil {
		return nil, err
	}
	for _, f := range all {
		if !f.Internal && strings.EqualFold(f.MIMEType, mime) {
			return f, nil
		}
	}
	return nil, nil
}

// Unknown returns the reserved Unknown format.
func (d *FormatDAO) Unknown(s *session.Session) (*content.BitstreamFormat, error) {
	f, err := d.FindByShortDescription(s, content.UnknownFormat)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, rErrors.Errorf(rErrors.NotFound, "the %q format is missing", content.UnknownFormat)
	}
	return f, nil
}

// unique fails unless no other format than f uses its short description.
func (d *FormatDAO) unique(s *session.Session, f *content.BitstreamFormat) error {
	have, err := d.FindByShortDescription(s, f.ShortDescription)
	if err != nil {
		return err
	}
	if have != nil && have.ID != f.ID {
		return rErrors.Errorf(rErrors.NonUniqueMetadata, "format %q already exists", f.ShortDescription)
	}
	return nil
}

// Create registers f and assigns its id.
func (d *FormatDAO) Create(s *session.Session, f *content.BitstreamFormat) error {
	if err := d.r.gate.AuthorizeAdmin(s); err != nil {
		return err
	}
	if f.ShortDescription == "" {
		return rErrors.New(rErrors.InvalidOperation, "a format needs a short description")
	}
	if err := d.unique(s, f); err != nil {
		return err
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return d.put(s, f)
}

// Update writes f. The Unknown format cannot be renamed.
func (d *FormatDAO) Update(s *session.Session, f *content.BitstreamFormat) error {
	if err := d.r.gate.AuthorizeAdmin(s); err != nil {
		return err
	}
	have, err := d.Retrieve(s, f.ID)
	if err != nil {
		return err
	}
	if have == nil {
		return rErrors.Errorf(rErrors.NotFound, "format %s", f.ID)
	}
	if have.IsUnknown() && !f.IsUnknown() {
		return rErrors.Errorf(rErrors.InvalidOperation, "the %q format cannot be renamed", content.UnknownFormat)
	}
	if err := d.unique(s, f); err != nil {
		return err
	}
	return d.put(s, f)
}

// Delete removes a format. Its bitstreams are given the Unknown format.
// Deleting the Unknown format is an InvalidOperation.
func (d *FormatDAO) Delete(s *session.Session, id uuid.UUID) error {
	if err := d.r.gate.AuthorizeAdmin(s); err != nil {
		return err
	}
	f, err := d.Retrieve(s, id)
	if err != nil {
		return err
	}
	if f == nil {
		return rErrors.Errorf(rErrors.NotFound, "format %s", id)
	}
	if f.IsUnknown() {
		return rErrors.Errorf(rErrors.InvalidOperation, "the %q format cannot be deleted", content.UnknownFormat)
	}
	unknown, err := d.Unknown(s)
	if err != nil {
		return err
	}

	ctx := s.Context()
	var affected []*content.Bitstream
	err = d.r.store.Scan(ctx, storage.TableBitstream, func(bid uuid.UUID, row []byte) error {
		bs := &content.Bitstream{}
		if err := json.Unmarshal(row, bs); err != nil {
			return errors.Wrapf(err, "bitstream %s", bid)
		}
		if bs.FormatID == id {
			affected = append(affected, bs)
		}
		return nil
	})
	if err != nil {
		return storageFailure(err)
	}
	for _, bs := range affected {
		if cached, ok := session.Cached[*content.Bitstream](s, content.TypeBitstream, bs.ID()); ok {
			cached.FormatID = unknown.ID
		}
		bs.FormatID = unknown.ID
		row, err := json.Marshal(bs)
		if err != nil {
			return errors.Wrapf(err, "bitstream %s", bs.ID())
		}
		if err := d.r.store.Put(ctx, storage.TableBitstream, bs.ID(), row); err != nil {
			return storageFailure(err)
		}
	}
	return storageFailure(d.r.store.Delete(ctx, storage.TableFormat, id))
}
