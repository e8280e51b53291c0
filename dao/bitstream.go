package dao

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// BitstreamDAO is the DAO of bitstreams. Deleting a bitstream only marks
// it deleted; Cleanup purges the marked rows and their content.
type BitstreamDAO struct {
	*DAO[*content.Bitstream]
}

func (r *Repository) bitstreamRules() rules[*content.Bitstream] {
	return rules[*content.Bitstream]{
		hidden: func(bs *content.Bitstream) bool {
			return bs.Deleted
		},
		purge: func(s *session.Session, bs *content.Bitstream) error {
			return r.forget(s, bs)
		},
		remove: func(s *session.Session, bs *content.Bitstream) error {
			bs.Deleted = true
			return r.Bitstreams.core.Next.Update(s, bs)
		},
	}
}

// create stores the content of rd and persists a bitstream describing it,
// in the Unknown format.
func (d *BitstreamDAO) create(s *session.Session, rd io.Reader) (*content.Bitstream, error) {
	if d.r.assets == nil {
		return nil, rErrors.New(rErrors.Configuration, "no asset store")
	}
	unknown, err := d.r.Formats.Unknown(s)
	if err != nil {
		return nil, err
	}
	var stored content.Bitstream
	if err := d.r.assets.Store(s.Context(), &stored, rd); err != nil {
		return nil, err
	}
	bs, err := d.chain.Create(s)
	if err != nil {
		return nil, err
	}
	bs.StoreNumber = stored.StoreNumber
	bs.InternalID = stored.InternalID
	bs.SizeBytes = stored.SizeBytes
	bs.Checksum = stored.Checksum
	bs.ChecksumAlgorithm = stored.ChecksumAlgorithm
	bs.FormatID = unknown.ID
	if _, err := d.core.persist(s, bs); err != nil {
		return nil, err
	}
	return bs, nil
}

// Bundles returns the bundles holding bs.
func (d *BitstreamDAO) Bundles(s *session.Session, bs *content.Bitstream) ([]*content.Bundle, error) {
	return d.r.Bundles.parents(s, bs)
}

// Format returns the format of bs.
func (d *BitstreamDAO) Format(s *session.Session, bs *content.Bitstream) (*content.BitstreamFormat, error) {
	if bs.FormatID == uuid.Nil {
		return d.r.Formats.Unknown(s)
	}
	return d.r.Formats.Retrieve(s, bs.FormatID)
}

// Open checks READ on bs and returns its content. The caller closes it.
func (d *BitstreamDAO) Open(s *session.Session, bs *content.Bitstream) (io.ReadCloser, error) {
	if err := d.r.gate.Authorize(s, bs, content.ActionRead); err != nil {
		return nil, err
	}
	if d.r.assets == nil {
		return nil, rErrors.New(rErrors.Configuration, "no asset store")
	}
	return d.r.assets.Retrieve(s.Context(), bs)
}

// Cleanup removes the content and the rows of the bitstreams marked
// deleted and returns how many were purged. It requires an administrator.
func (d *BitstreamDAO) Cleanup(s *session.Session) (int, error) {
	if err := d.r.gate.AuthorizeAdmin(s); err != nil {
		return 0, err
	}
	ctx := s.Context()
	var deleted []*content.Bitstream
	err := d.r.store.Scan(ctx, storage.TableBitstream, func(id uuid.UUID, row []byte) error {
		bs := &content.Bitstream{}
		if err := json.Unmarshal(row, bs); err != nil {
			return errors.Wrapf(err, "bitstream %s", id)
		}
		if bs.Deleted {
			deleted = append(deleted, bs)
		}
		return nil
	})
	if err != nil {
		return 0, storageFailure(err)
	}
	logger := d.core.logger.WithField("op", "cleanup")
	for _, bs := range deleted {
		if d.r.assets != nil {
			if err := d.r.assets.Remove(ctx, bs); err != nil {
				return 0, err
			}
		}
		if err := d.r.store.Delete(ctx, storage.TableBitstream, bs.ID()); err != nil {
			return 0, storageFailure(err)
		}
		logger.WithFields(logrus.Fields{"id": bs.ID(), "internal": bs.InternalID}).Debug("Bitstream purged")
	}
	return len(deleted), nil
}
