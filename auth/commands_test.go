package auth_test

import (
	"context"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
)

func TestProvisionUserHandler(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := auth.NewRepositoryManager(db)

	var events []auth.ActivityEvent
	handler := auth.NewProvisionUserHandler(repo).
		WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
			events = append(events, e)
			return nil
		}))

	t.Run("student", func(t *testing.T) {
		user, err := handler.Execute(ctx, student("siswa1", "12345"))
		require.NoError(t, err)
		assert.Equal(t, auth.RoleUser, user.Role)
		assert.Equal(t, "12345", user.NISValue())
		assert.True(t, auth.VerifyPassword("password123", user.PasswordHash, nil))
		require.Len(t, events, 1)
		assert.Equal(t, auth.ActivityEventUserProvisioned, events[0].EventType)
	})

	t.Run("admin drops student fields", func(t *testing.T) {
		msg := admin("admin2")
		msg.Kelas = "ignored"
		msg.NIS = "ignored"
		user, err := handler.Execute(ctx, msg)
		require.NoError(t, err)
		assert.Nil(t, user.Kelas)
		assert.Nil(t, user.NIS)
	})

	t.Run("hashid seed id is deterministic", func(t *testing.T) {
		msg := admin("admin")
		msg.UseHashid = true
		user, err := handler.Execute(ctx, msg)
		require.NoError(t, err)

		want, err := hashid.NewUUID("admin")
		require.NoError(t, err)
		assert.Equal(t, want, user.ID)
	})

	t.Run("validation", func(t *testing.T) {
		msg := student("siswa9", "")
		msg.Kelas = ""
		_, err := handler.Execute(ctx, msg)
		require.Error(t, err)

		var verrs validation.Errors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, verrs, "kelas")
		assert.Contains(t, verrs, "nis")
	})

	t.Run("conflicts", func(t *testing.T) {
		_, err := handler.Execute(ctx, student("siswa1", "99999"))
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)

		_, err = handler.Execute(ctx, student("siswa2", "12345"))
		assert.ErrorIs(t, err, auth.ErrNISTaken)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := handler.Execute(cctx, student("siswa3", "33333"))
		assert.Error(t, err)
	})
}

func TestChangeCredentials(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := auth.NewRepositoryManager(db)
	user := provision(t, repo, student("siswa1", "12345"))
	provision(t, repo, student("siswa2", "67890"))

	t.Run("username", func(t *testing.T) {
		h := auth.NewChangeUsernameHandler(repo)

		_, err := h.Execute(ctx, auth.ChangeUsernameMessage{UserID: user.ID, Username: "siswa2"})
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)

		_, err = h.Execute(ctx, auth.ChangeUsernameMessage{UserID: user.ID, Username: "ab"})
		assert.Error(t, err)

		updated, err := h.Execute(ctx, auth.ChangeUsernameMessage{UserID: user.ID, Username: "budi"})
		require.NoError(t, err)
		assert.Equal(t, "budi", updated.Username)
	})

	t.Run("password", func(t *testing.T) {
		h := auth.NewChangePasswordHandler(repo)

		err := h.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          user.ID,
			CurrentPassword: "password123",
			NewPassword:     "newpassword",
			ConfirmPassword: "different",
		})
		assert.Error(t, err)

		err = h.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          user.ID,
			CurrentPassword: "wrong-password",
			NewPassword:     "newpassword",
			ConfirmPassword: "newpassword",
		})
		assert.ErrorIs(t, err, auth.ErrCurrentPasswordMismatch)

		err = h.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          user.ID,
			CurrentPassword: "password123",
			NewPassword:     "newpassword",
			ConfirmPassword: "newpassword",
		})
		require.NoError(t, err)

		reloaded, err := repo.Users().GetByUsername(ctx, "budi")
		require.NoError(t, err)
		assert.True(t, auth.VerifyPassword("newpassword", reloaded.PasswordHash, nil))
		assert.False(t, auth.VerifyPassword("password123", reloaded.PasswordHash, nil))
	})
}
