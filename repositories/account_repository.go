package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

type AccountRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewAccountRepository(collection *mongo.Collection) *AccountRepository {
	return &AccountRepository{
		collection: collection,
		now:        time.Now,
	}
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// FindByID returns nil for ids that are not valid ObjectIDs.
func (r *AccountRepository) FindByID(ctx context.Context, id models.AccountID) (*models.Account, error) {
	objectID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": objectID})
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, filter).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &account, nil
}

// UpsertPending records a verified email on its pending account, creating the
// account when needed. The unique email index turns a clash with an active
// account into services.ErrEmailTaken.
func (r *AccountRepository) UpsertPending(ctx context.Context, email string, verifiedAt time.Time) (models.AccountID, error) {
	now := r.now()
	filter := bson.M{"email": email, "status": models.AccountStatusPending}
	update := bson.M{
		"$set": bson.M{
			"emailVerifiedAt": verifiedAt,
			"updatedAt":       now,
		},
		"$setOnInsert": bson.M{
			"createdAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var account models.Account
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&account)
	if mongo.IsDuplicateKeyError(err) {
		return "", services.ErrEmailTaken
	}
	if err != nil {
		return "", fmt.Errorf("upsert pending account: %w", err)
	}
	return models.AccountID(account.ID.Hex()), nil
}

// Activate moves a pending account to active. It reports false when the
// account does not exist or is no longer pending.
func (r *AccountRepository) Activate(ctx context.Context, id models.AccountID, profile models.AccountProfile) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return false, nil
	}

	filter := bson.M{"_id": objectID, "status": models.AccountStatusPending}
	update := bson.M{
		"$set": bson.M{
			"firstName":    profile.FirstName,
			"lastName":     profile.LastName,
			"role":         profile.Role,
			"passwordHash": profile.PasswordHash,
			"status":       models.AccountStatusActive,
			"updatedAt":    r.now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("activate account: %w", err)
	}
	return result.MatchedCount > 0, nil
}
