package processor

import (
	"log/slog"

	"github.com/Guizzs26/go-datasync/internal/db"
)

// Store is the complete local side of a sync: the repository's queries plus
// the handler's transactional writes.
type Store struct {
	*db.LocalRepository
	*SyncHandler
}

func NewStore(repo *db.LocalRepository, logger *slog.Logger) *Store {
	return &Store{
		LocalRepository: repo,
		SyncHandler:     NewSyncHandler(repo, logger),
	}
}
