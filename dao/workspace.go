package dao

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// WorkspaceItemDAO manages items that are still being submitted. The item
// of a workspace item belongs to no collection until it is archived.
type WorkspaceItemDAO struct {
	r *Repository
}

// submitterActions are granted to the submitter on a new item.
var submitterActions = []content.Action{
	content.ActionRead,
	content.ActionWrite,
	content.ActionAdd,
	content.ActionRemove,
}

// Create starts a submission to collection. ADD on the collection is
// required. With useTemplate the metadata of the template item of the
// collection is copied to the new item.
func (d *WorkspaceItemDAO) Create(s *session.Session, collection *content.Collection, useTemplate bool) (*content.WorkspaceItem, error) {
	if err := d.r.gate.Authorize(s, collection, content.ActionAdd); err != nil {
		return nil, err
	}
	item, err := d.newItem(s, collection, useTemplate)
	if err != nil {
		return nil, err
	}
	wsi := &content.WorkspaceItem{
		ID:           uuid.New(),
		ItemID:       item.ID(),
		CollectionID: collection.ID(),
		Item:         item,
	}
	if err := d.put(s, wsi); err != nil {
		return nil, err
	}
	return wsi, nil
}

func (d *WorkspaceItemDAO) newItem(s *session.Session, collection *content.Collection, useTemplate bool) (*content.Item, error) {
	s.TurnOffAuthorization()
	defer s.RestoreAuthorization()

	item, err := d.r.Items.chain.Create(s)
	if err != nil {
		return nil, err
	}
	item.SubmitterID = s.PrincipalID()
	if useTemplate && collection.TemplateItemID != uuid.Nil {
		template, err := d.r.Items.Retrieve(s, collection.TemplateItemID)
		if err != nil {
			return nil, err
		}
		if template != nil {
			for _, v := range template.MetadataValues() {
				item.AddMetadata(v.Schema, v.Element, v.Qualifier, v.Language, v.Value)
			}
		}
	}
	if _, err := d.r.Items.core.persist(s, item); err != nil {
		return nil, err
	}
	if item.SubmitterID != uuid.Nil {
		for _, action := range submitterActions {
			if _, err := d.r.gate.AddPrincipalPolicy(s, item, action, item.SubmitterID); err != nil {
				return nil, err
			}
		}
	}
	return item, nil
}

func (d *WorkspaceItemDAO) put(s *session.Session, wsi *content.WorkspaceItem) error {
	row, err := json.Marshal(wsi)
	if err != nil {
		return errors.Wrapf(err, "workspace item %s", wsi.ID)
	}
	return storageFailure(d.r.store.Put(s.Context(), storage.TableWorkspaceItem, wsi.ID, row))
}

func (d *WorkspaceItemDAO) decode(s *session.Session, id uuid.UUID, row []byte) (*content.WorkspaceItem, error) {
	wsi := &content.WorkspaceItem{}
	if err := json.Unmarshal(row, wsi); err != nil {
		return nil, storageFailure(errors.Wrapf(err, "workspace item %s", id))
	}
	item, err := d.r.Items.Retrieve(s, wsi.ItemID)
	if err != nil {
		return nil, err
	}
	wsi.Item = item
	return wsi, nil
}

// Retrieve returns the workspace item with its item loaded, or nil.
func (d *WorkspaceItemDAO) Retrieve(s *session.Session, id uuid.UUID) (*content.WorkspaceItem, error) {
	row, err := d.r.store.Get(s.Context(), storage.TableWorkspaceItem, id)
	if err != nil {
		return nil, storageFailure(err)
	}
	if row == nil {
		return nil, nil
	}
	return d.decode(s, id, row)
}

// Update writes wsi and its item. WRITE on the item is required.
func (d *WorkspaceItemDAO) Update(s *session.Session, wsi *content.WorkspaceItem) error {
	item, err := d.item(s, wsi)
	if err != nil {
		return err
	}
	if err := d.r.Items.Update(s, item); err != nil {
		return err
	}
	return d.put(s, wsi)
}

// BySubmitter returns the workspace items submitted by principal.
func (d *WorkspaceItemDAO) BySubmitter(s *session.Session, principal uuid.UUID) ([]*content.WorkspaceItem, error) {
	rows := map[uuid.UUID][]byte{}
	var ids []uuid.UUID
	err := d.r.store.Scan(s.Context(), storage.TableWorkspaceItem, func(id uuid.UUID, row []byte) error {
		ids = append(ids, id)
		rows[id] = row
		return nil
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	var out []*content.WorkspaceItem
	for _, id := range ids {
		wsi, err := d.decode(s, id, rows[id])
		if err != nil {
			return nil, err
		}
		if wsi.Item != nil && wsi.Item.SubmitterID == principal {
			out = append(out, wsi)
		}
	}
	return out, nil
}

func (d *WorkspaceItemDAO) item(s *session.Session, wsi *content.WorkspaceItem) (*content.Item, error) {
	if wsi.Item != nil {
		return wsi.Item, nil
	}
	item, err := d.r.Items.Retrieve(s, wsi.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, rErrors.Errorf(rErrors.NotFound, "item %s of workspace item %s", wsi.ItemID, wsi.ID)
	}
	wsi.Item = item
	return item, nil
}

// DeleteWrapper removes the workspace row and keeps the item. WRITE on the
// item is required.
func (d *WorkspaceItemDAO) DeleteWrapper(s *session.Session, wsi *content.WorkspaceItem) error {
	item, err := d.item(s, wsi)
	if err != nil {
		return err
	}
	if err := d.r.gate.Authorize(s, item, content.ActionWrite); err != nil {
		return err
	}
	return storageFailure(d.r.store.Delete(s.Context(), storage.TableWorkspaceItem, wsi.ID))
}

// DeleteAll abandons the submission: the workspace row and the item go.
// Only the submitter or an administrator may do this.
func (d *WorkspaceItemDAO) DeleteAll(s *session.Session, wsi *content.WorkspaceItem) error {
	item, err := d.item(s, wsi)
	if err != nil {
		return err
	}
	admin, err := d.r.gate.IsAdmin(s)
	if err != nil {
		return err
	}
	if !admin && !s.IgnoreAuthorization() && (s.PrincipalID() == uuid.Nil || s.PrincipalID() != item.SubmitterID) {
		return rErrors.Errorf(rErrors.AuthorizationDenied, "only the submitter may abandon workspace item %s", wsi.ID)
	}
	if err := d.r.store.Delete(s.Context(), storage.TableWorkspaceItem, wsi.ID); err != nil {
		return storageFailure(err)
	}
	if err := d.r.gate.GrantTransient(s, item, content.ActionDelete, content.ActionRemove); err != nil {
		return err
	}
	return d.r.Items.core.delete(s, item)
}

// Archive installs the item in its collection as owner, mints its
// external identifiers and removes the workspace row. ADD on the collection
// is required.
func (d *WorkspaceItemDAO) Archive(s *session.Session, wsi *content.WorkspaceItem) (*content.Item, error) {
	item, err := d.item(s, wsi)
	if err != nil {
		return nil, err
	}
	collection, err := d.r.Collections.Retrieve(s, wsi.CollectionID)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, rErrors.Errorf(rErrors.NotFound, "collection %s of workspace item %s", wsi.CollectionID, wsi.ID)
	}
	if err := d.r.gate.Authorize(s, collection, content.ActionAdd); err != nil {
		return nil, err
	}

	item.InArchive = true
	item.OwningCollectionID = collection.ID()
	if _, err := d.r.minter.MintExternal(s, item); err != nil {
		return nil, err
	}
	if _, err := d.r.Items.core.persist(s, item); err != nil {
		return nil, err
	}
	if err := d.r.Collections.Link(s, collection, item); err != nil {
		return nil, err
	}
	if err := d.r.store.Delete(s.Context(), storage.TableWorkspaceItem, wsi.ID); err != nil {
		return nil, storageFailure(err)
	}
	return item, nil
}
