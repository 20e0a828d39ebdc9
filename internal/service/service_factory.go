package service

import (
	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/hashing"
	"swap-service/internal/model"
	"swap-service/internal/token"
	"swap-service/internal/verification"
)

// ServiceFactory creates and caches service instances.
type ServiceFactory struct {
	users    model.UserRepository
	items    model.ItemRepository
	hasher   *hashing.Hasher
	tokens   *token.Service
	verifier *verification.Service
	search   *client.ESClient
	logger   *zap.Logger

	userService *UserService
	itemService *ItemService
}

func NewServiceFactory(
	users model.UserRepository,
	items model.ItemRepository,
	hasher *hashing.Hasher,
	tokens *token.Service,
	verifier *verification.Service,
	search *client.ESClient,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		users:    users,
		items:    items,
		hasher:   hasher,
		tokens:   tokens,
		verifier: verifier,
		search:   search,
		logger:   logger,
	}
}

// UserService returns the user service singleton.
func (f *ServiceFactory) UserService() *UserService {
	if f.userService == nil {
		f.userService = NewUserService(f.users, f.hasher, f.tokens, f.verifier, f.logger)
	}
	return f.userService
}

// ItemService returns the item service singleton.
func (f *ServiceFactory) ItemService() *ItemService {
	if f.itemService == nil {
		f.itemService = NewItemService(f.items, f.search, f.logger)
	}
	return f.itemService
}
