package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

func TestAccountRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	id := primitive.NewObjectID()

	mt.Run("find by email", func(mt *mtest.T) {
		repo := NewAccountRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "email", Value: "ann@x.com"},
			{Key: "status", Value: models.AccountStatusActive},
			{Key: "role", Value: "instructor"},
		}))

		account, err := repo.FindByEmail(ctx, "ann@x.com")
		require.NoError(mt, err)
		require.NotNil(mt, account)
		assert.Equal(mt, id, account.ID)
		assert.Equal(mt, models.RoleInstructor, account.Role)
	})

	mt.Run("find missing", func(mt *mtest.T) {
		repo := NewAccountRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		account, err := repo.FindByID(ctx, models.AccountID(id.Hex()))
		require.NoError(mt, err)
		assert.Nil(mt, account)

		account, err = repo.FindByID(ctx, "not-an-object-id")
		require.NoError(mt, err)
		assert.Nil(mt, account)
	})

	mt.Run("upsert pending", func(mt *mtest.T) {
		repo := NewAccountRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "email", Value: "ann@x.com"},
			{Key: "status", Value: models.AccountStatusPending},
		}}))

		got, err := repo.UpsertPending(ctx, "ann@x.com", time.Now())
		require.NoError(mt, err)
		assert.Equal(mt, models.AccountID(id.Hex()), got)
	})

	mt.Run("upsert clashes with active account", func(mt *mtest.T) {
		repo := NewAccountRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11000,
			Message: "E11000 duplicate key error collection: accounts index: email_1",
			Name:    "DuplicateKey",
		}))

		_, err := repo.UpsertPending(ctx, "ann@x.com", time.Now())
		assert.ErrorIs(mt, err, services.ErrEmailTaken)
	})

	mt.Run("activate", func(mt *mtest.T) {
		repo := NewAccountRepository(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)
		profile := models.AccountProfile{FirstName: "Ann", LastName: "Lee", Role: models.RoleStudent, PasswordHash: "hash"}

		ok, err := repo.Activate(ctx, models.AccountID(id.Hex()), profile)
		require.NoError(mt, err)
		assert.True(mt, ok)

		ok, err = repo.Activate(ctx, models.AccountID(id.Hex()), profile)
		require.NoError(mt, err)
		assert.False(mt, ok, "already active")
	})
}
