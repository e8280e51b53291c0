package content

import "github.com/google/uuid"

// WorkspaceItem wraps an item that is still being submitted.
type WorkspaceItem struct {
	ID              uuid.UUID `json:"id"`
	ItemID          uuid.UUID `json:"itemID"`
	CollectionID    uuid.UUID `json:"collectionID"`
	StageReached    int       `json:"stageReached"`
	PageReached     int       `json:"pageReached"`
	MultipleFiles   bool      `json:"multipleFiles"`
	MultipleTitles  bool      `json:"multipleTitles"`
	PublishedBefore bool      `json:"publishedBefore"`

	Item *Item `json:"-"`
}
