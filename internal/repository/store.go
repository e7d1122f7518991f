package repository

import "github.com/jackc/pgx/v5/pgxpool"

// WearableStore is the day cache and credential store over one pool.
type WearableStore struct {
	*ActivityRepo
	*CredentialsRepo
}

func NewWearableStore(pool *pgxpool.Pool) *WearableStore {
	return &WearableStore{
		ActivityRepo:    NewActivityRepo(pool),
		CredentialsRepo: NewCredentialsRepo(pool),
	}
}
