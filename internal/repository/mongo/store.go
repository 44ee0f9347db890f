// Package mongo implements repository.Store on MongoDB. Settlement runs in a
// multi-document transaction, so the server must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
)

const (
	colAccounts = "accounts"
	colEntries  = "ledger_entries"
)

var _ repository.Store = (*Store)(nil)

// Store is a repository.Store backed by a MongoDB database.
type Store struct {
	client   *mongo.Client
	accounts *mongo.Collection
	entries  *mongo.Collection
}

// Connect dials uri and returns a store over database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ledger/mongo: ping: %w", err)
	}
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		accounts: db.Collection(colAccounts),
		entries:  db.Collection(colEntries),
	}
}

// Migrate creates the indexes the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email_lower", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", colAccounts, err)
	}
	_, err := s.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "external_ref", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"external_ref": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", colEntries, err)
	}
	return nil
}

// CreateAccount inserts an account.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if _, err := s.accounts.InsertOne(ctx, toAccountModel(account)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("ledger/mongo: create account: %w", err)
	}
	return nil
}

// GetAccountByEmail fetches an account by email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findAccount(ctx, bson.M{"email_lower": normalizeEmail(email)})
}

// GetAccountByID fetches an account by identifier.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": id})
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var m accountModel
	if err := s.accounts.FindOne(ctx, filter).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get account: %w", err)
	}
	return fromAccountModel(&m), nil
}

// CreateLedgerEntry inserts a pending entry.
func (s *Store) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	m := toEntryModel(entry)
	m.Settled = false
	m.SettledAt = nil
	if _, err := s.entries.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("ledger/mongo: create ledger entry: %w", err)
	}
	return nil
}

// GetLedgerEntry fetches an entry by identifier.
func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var m entryModel
	if err := s.entries.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get ledger entry: %w", err)
	}
	return fromEntryModel(&m), nil
}

// ListLedgerEntriesByAccount returns recent entries for an account.
func (s *Store) ListLedgerEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.entries.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list ledger entries: %w", err)
	}
	var models []entryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: decode ledger entries: %w", err)
	}
	entries := make([]domain.LedgerEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *fromEntryModel(&models[i]))
	}
	return entries, nil
}

// AttachExternalRef records the processor reference once.
func (s *Store) AttachExternalRef(ctx context.Context, entryID, ref string) error {
	filter := bson.M{
		"_id": entryID,
		"$or": bson.A{
			bson.M{"external_ref": bson.M{"$exists": false}},
			bson.M{"external_ref": ref},
		},
	}
	res, err := s.entries.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"external_ref": ref}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("ledger/mongo: attach external ref: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetLedgerEntry(ctx, entryID); err != nil {
		return err
	}
	return repository.ErrConflict
}

type settleResult struct {
	entry   *domain.LedgerEntry
	balance int64
}

// SettleLedgerEntry flips the entry and credits the account inside one
// session transaction; the settled:false filter is the compare-and-swap.
func (s *Store) SettleLedgerEntry(ctx context.Context, entryID, ref string) (*domain.LedgerEntry, int64, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, 0, fmt.Errorf("ledger/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	out, err := session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		now := time.Now().UTC()
		var current entryModel
		if err := s.entries.FindOne(ctx, bson.M{"_id": entryID}).Decode(&current); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, repository.ErrNotFound
			}
			return nil, err
		}
		set := bson.M{"settled": true, "settled_at": now}
		if current.ExternalRef == "" && ref != "" {
			set["external_ref"] = ref
		}
		var flipped entryModel
		err := s.entries.FindOneAndUpdate(ctx,
			bson.M{"_id": entryID, "settled": false},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&flipped)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, repository.ErrAlreadySettled
			}
			return nil, err
		}

		var account accountModel
		err = s.accounts.FindOneAndUpdate(ctx,
			bson.M{"_id": flipped.AccountID},
			bson.M{"$inc": bson.M{"credit_balance": flipped.Credits}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&account)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, repository.ErrAccountNotFound
			}
			return nil, err
		}
		return settleResult{entry: fromEntryModel(&flipped), balance: account.CreditBalance}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrAlreadySettled) || errors.Is(err, repository.ErrAccountNotFound) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("ledger/mongo: settle ledger entry: %w", err)
	}
	result := out.(settleResult)
	return result.entry, result.balance, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
