package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
)

func TestUsersRepository(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	users := auth.NewUsersRepository(db)

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	siswa := &auth.User{
		Username:     "siswa1",
		PasswordHash: hash,
		FullName:     "Siswa Satu",
		Role:         auth.RoleUser,
		Kelas:        auth.StringPtr("XII IPA 1"),
		NIS:          auth.StringPtr("12345"),
	}
	_, err = users.Register(ctx, siswa)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, siswa.ID)

	t.Run("lookups", func(t *testing.T) {
		byID, err := users.GetByIdentifier(ctx, siswa.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "siswa1", byID.Username)

		byName, err := users.GetByIdentifier(ctx, "siswa1")
		require.NoError(t, err)
		assert.Equal(t, siswa.ID, byName.ID)

		byNIS, err := users.GetByNIS(ctx, "12345")
		require.NoError(t, err)
		assert.Equal(t, siswa.ID, byNIS.ID)
		assert.Equal(t, "XII IPA 1", byNIS.KelasValue())

		_, err = users.GetByUsername(ctx, "nobody")
		assert.True(t, repository.IsRecordNotFound(err))

		_, err = users.GetByIdentifier(ctx, "  ")
		assert.True(t, repository.IsRecordNotFound(err))
	})

	t.Run("unique constraints", func(t *testing.T) {
		_, err := users.Register(ctx, &auth.User{
			Username:     "siswa1",
			PasswordHash: hash,
			FullName:     "Duplicate",
			Role:         auth.RoleUser,
			Kelas:        auth.StringPtr("X"),
			NIS:          auth.StringPtr("99999"),
		})
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)

		_, err = users.Register(ctx, &auth.User{
			Username:     "siswa2",
			PasswordHash: hash,
			FullName:     "Duplicate NIS",
			Role:         auth.RoleUser,
			Kelas:        auth.StringPtr("X"),
			NIS:          auth.StringPtr("12345"),
		})
		assert.ErrorIs(t, err, auth.ErrNISTaken)
	})

	t.Run("update username", func(t *testing.T) {
		_, err := users.Register(ctx, &auth.User{
			Username:     "admin",
			PasswordHash: hash,
			FullName:     "Admin",
			Role:         auth.RoleAdmin,
		})
		require.NoError(t, err)

		_, err = users.UpdateUsername(ctx, siswa.ID, "admin")
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)

		updated, err := users.UpdateUsername(ctx, siswa.ID, " siswa_satu ")
		require.NoError(t, err)
		assert.Equal(t, "siswa_satu", updated.Username)

		// renaming to the current name is allowed
		_, err = users.UpdateUsername(ctx, siswa.ID, "siswa_satu")
		assert.NoError(t, err)

		_, err = users.UpdateUsername(ctx, uuid.New(), "ghost")
		assert.True(t, repository.IsRecordNotFound(err))
	})

	t.Run("update password hash", func(t *testing.T) {
		newHash, err := auth.HashPassword("newpassword")
		require.NoError(t, err)
		require.NoError(t, users.UpdatePasswordHash(ctx, siswa.ID, newHash))

		reloaded, err := users.GetByID(ctx, siswa.ID.String())
		require.NoError(t, err)
		assert.True(t, auth.VerifyPassword("newpassword", reloaded.PasswordHash, nil))
	})

	t.Run("list by role", func(t *testing.T) {
		all, err := users.ListByRole(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		students, err := users.ListByRole(ctx, auth.RoleUser)
		require.NoError(t, err)
		require.Len(t, students, 1)
		assert.Equal(t, siswa.ID, students[0].ID)
	})
}

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		user    auth.User
		wantErr bool
	}{
		{
			name: "valid student",
			user: auth.User{Username: "siswa1", FullName: "S", Role: auth.RoleUser, Kelas: auth.StringPtr("X"), NIS: auth.StringPtr("1")},
		},
		{
			name: "valid admin",
			user: auth.User{Username: "admin", FullName: "A", Role: auth.RoleAdmin},
		},
		{
			name:    "student without nis",
			user:    auth.User{Username: "siswa1", FullName: "S", Role: auth.RoleUser, Kelas: auth.StringPtr("X")},
			wantErr: true,
		},
		{
			name:    "admin with kelas",
			user:    auth.User{Username: "admin", FullName: "A", Role: auth.RoleAdmin, Kelas: auth.StringPtr("X")},
			wantErr: true,
		},
		{
			name:    "unknown role",
			user:    auth.User{Username: "guru", FullName: "G", Role: "teacher"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
