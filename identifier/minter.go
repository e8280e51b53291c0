// Package identifier issues the identifiers of repository objects: an
// internal UUID at creation time and zero or more external persistent
// identifiers from the configured providers.
package identifier

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
)

// Provider issues one family of external identifiers.
type Provider interface {
	// Supports reports whether o should carry an identifier from this
	// provider in its current state.
	Supports(o content.Object) bool

	// Mint issues an identifier for o unless it already holds one, and
	// returns it.
	Mint(s *session.Session, o content.Object) (string, error)

	// Release forgets every identifier of o issued by this provider.
	Release(s *session.Session, o content.Object) error

	// Resolve returns the object an identifier was issued for. ok is false
	// when the identifier is unknown to the provider.
	Resolve(s *session.Session, id string) (t content.Type, oid uuid.UUID, ok bool, err error)
}

// Minter combines the internal identifier with the external providers.
type Minter struct {
	logger    logrus.FieldLogger
	providers []Provider
}

func New(logger logrus.FieldLogger, providers ...Provider) *Minter {
	return &Minter{
		logger:    logger.WithField("component", "identifier"),
		providers: providers,
	}
}

// Mint assigns an internal identifier to o if it has none and returns it.
// Assigned identifiers are never changed.
func (m *Minter) Mint(o content.Object) uuid.UUID {
	if id := o.ID(); id != uuid.Nil {
		return id
	}
	id := uuid.New()
	o.SetID(id)
	return id
}

// MintExternal asks every provider supporting o for an identifier and adds
// the results to o. Providers skip objects they already identified.
func (m *Minter) MintExternal(s *session.Session, o content.Object) ([]string, error) {
	var minted []string
	for _, p := range m.providers {
		if !p.Supports(o) {
			continue
		}
		id, err := p.Mint(s, o)
		if err != nil {
			return minted, err
		}
		if id == "" {
			continue
		}
		o.AddExternalIdentifier(id)
		minted = append(minted, id)
	}
	if len(minted) > 0 {
		m.logger.WithFields(logrus.Fields{"type": o.Type().String(), "id": o.ID(), "identifiers": minted}).Debug("External identifiers minted")
	}
	return minted, nil
}

// Release hands the external identifiers of o back to their providers.
func (m *Minter) Release(s *session.Session, o content.Object) error {
	for _, p := range m.providers {
		if err := p.Release(s, o); err != nil {
			return err
		}
	}
	return nil
}

// Resolve finds the object holding an external identifier. It fails with
// NotFound when no provider knows it.
func (m *Minter) Resolve(s *session.Session, id string) (content.Type, uuid.UUID, error) {
	for _, p := range m.providers {
		t, oid, ok, err := p.Resolve(s, id)
		if err != nil {
			return 0, uuid.Nil, err
		}
		if ok {
			return t, oid, nil
		}
	}
	return 0, uuid.Nil, rErrors.Errorf(rErrors.NotFound, "identifier %s", id)
}
