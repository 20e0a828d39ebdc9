package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
)

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrNotItemOwner      = errors.New("not allowed to modify this item")
	ErrSearchUnavailable = errors.New("search is unavailable")
	ErrInvalidItemInput  = errors.New("invalid item input")
)

const (
	maxSearchResults = 50
	indexTimeout     = 5 * time.Second
)

type ItemCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ItemUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsAvailable *bool   `json:"is_available,omitempty"`
}

// itemDocument is the search index projection of an item.
type itemDocument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	IsAvailable bool   `json:"is_available"`
}

// ItemService handles item listings. Postgres is the source of truth;
// the search index is maintained best-effort on every write.
type ItemService struct {
	items  model.ItemRepository
	search *client.ESClient // nil when search is not configured
	logger *zap.Logger
}

func NewItemService(items model.ItemRepository, search *client.ESClient, logger *zap.Logger) *ItemService {
	return &ItemService{
		items:  items,
		search: search,
		logger: logger,
	}
}

func (s *ItemService) Create(ctx context.Context, ownerID string, req *ItemCreateRequest) (*model.Item, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItemInput)
	}

	item := &model.Item{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
		IsAvailable: true,
	}
	if err := s.items.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	s.indexAsync(item)
	s.logger.Info("item created",
		zap.String("item_id", item.ID),
		zap.String("owner_id", ownerID))
	return item, nil
}

func (s *ItemService) Get(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := s.items.GetItemByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (s *ItemService) List(ctx context.Context) ([]*model.Item, error) {
	return s.items.ListItems(ctx)
}

func (s *ItemService) ListByOwner(ctx context.Context, ownerID string) ([]*model.Item, error) {
	return s.items.ListItemsByOwner(ctx, ownerID)
}

// Update applies the provided fields. Only the owner may update.
func (s *ItemService) Update(ctx context.Context, userID, itemID string, req *ItemUpdateRequest) (*model.Item, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != userID {
		return nil, ErrNotItemOwner
	}

	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.IsAvailable != nil {
		item.IsAvailable = *req.IsAvailable
	}

	if err := s.items.UpdateItem(ctx, item); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	s.indexAsync(item)
	return item, nil
}

// Delete removes an item. Only the owner may delete.
func (s *ItemService) Delete(ctx context.Context, userID, itemID string) error {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != userID {
		return ErrNotItemOwner
	}

	if err := s.items.DeleteItem(ctx, itemID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}

	if s.search != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
			defer cancel()
			if err := s.search.DeleteItem(ctx, itemID); err != nil {
				s.logger.Warn("failed to remove item from search index",
					zap.String("item_id", itemID),
					zap.Error(err))
			}
		}()
	}
	return nil
}

// Search queries the index and resolves hits against Postgres. Items that
// vanished since indexing are skipped.
func (s *ItemService) Search(ctx context.Context, query string) ([]*model.Item, error) {
	if s.search == nil {
		return nil, ErrSearchUnavailable
	}

	ids, err := s.search.SearchItems(ctx, query, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("item search failed: %w", err)
	}

	items := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		item, err := s.items.GetItemByID(ctx, id)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to resolve search hit: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// indexAsync upserts the item's search document without blocking the
// caller. Index failures only degrade search.
func (s *ItemService) indexAsync(item *model.Item) {
	if s.search == nil {
		return
	}
	doc := itemDocument{
		Name:        item.Name,
		Description: item.Description,
		OwnerID:     item.OwnerID,
		IsAvailable: item.IsAvailable,
	}
	id := item.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := s.search.IndexItem(ctx, id, doc); err != nil {
			s.logger.Warn("failed to index item",
				zap.String("item_id", id),
				zap.Error(err))
		}
	}()
}
