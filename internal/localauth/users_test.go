package localauth

import (
	"context"
	"errors"
	"testing"
)

func TestUserDirectories(t *testing.T) {
	testCases := []struct {
		name      string
		directory func(t *testing.T) UserDirectory
	}{
		{
			name: "memory",
			directory: func(t *testing.T) UserDirectory {
				return NewMemoryUserDirectory()
			},
		},
		{
			name: "sqlite",
			directory: func(t *testing.T) UserDirectory {
				directory, err := NewDatabaseUserDirectory(context.Background(), openTestDatabase(t, "user_directory"))
				if err != nil {
					t.Fatalf("user directory: %v", err)
				}
				return directory
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctx := context.Background()
			directory := testCase.directory(t)

			created, err := directory.CreatePasswordUser(ctx, " User@Example.com ", []byte("hash"), "Asha")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID == "" || created.Email != "user@example.com" || created.DisplayName != "Asha" {
				t.Fatalf("unexpected identity %+v", created)
			}
			if _, err := directory.CreatePasswordUser(ctx, "user@example.com", []byte("other"), ""); !errors.Is(err, ErrUserExists) {
				t.Fatalf("expected ErrUserExists, got %v", err)
			}
			record, err := directory.FindByEmail(ctx, "USER@example.com")
			if err != nil || record.Identity.ID != created.ID || string(record.PasswordHash) != "hash" {
				t.Fatalf("find by email: %+v %v", record, err)
			}
			if _, err := directory.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("expected ErrUserNotFound, got %v", err)
			}

			phoneUser, err := directory.UpsertPhoneUser(ctx, "+919876543210")
			if err != nil {
				t.Fatalf("upsert phone: %v", err)
			}
			samePhoneUser, err := directory.UpsertPhoneUser(ctx, "+919876543210")
			if err != nil || samePhoneUser.ID != phoneUser.ID || phoneUser.Phone != "+919876543210" {
				t.Fatalf("expected phone upsert to be idempotent: %+v %+v %v", phoneUser, samePhoneUser, err)
			}

			googleUser, err := directory.UpsertGoogleUser(ctx, "google-sub", "user@example.com", "Asha G")
			if err != nil {
				t.Fatalf("upsert google: %v", err)
			}
			if googleUser.ID != created.ID {
				t.Fatalf("expected google sign-in to link the existing email account")
			}
			fetched, err := directory.GetUser(ctx, googleUser.ID)
			if err != nil || fetched.Email != "user@example.com" {
				t.Fatalf("get user: %+v %v", fetched, err)
			}
			if _, err := directory.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("expected ErrUserNotFound, got %v", err)
			}
		})
	}
}
