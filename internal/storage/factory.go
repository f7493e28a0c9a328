// Package storage selects the export publish target from the environment.
package storage

import (
	"context"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"vidforge/internal/adapters/storage/gdrive"
	"vidforge/internal/adapters/storage/localfs"
	"vidforge/internal/pkg/errors"
)

// NewProvider builds the provider named by STORAGE_PROVIDER. An empty
// value selects no publishing at all (exports stay on local disk inside
// the artifact store), which is the default deployment.
func NewProvider() (Provider, error) {
	switch provider := os.Getenv("STORAGE_PROVIDER"); provider {
	case "":
		return nil, nil

	case "localfs":
		root := os.Getenv("STORAGE_LOCAL_ROOT")
		if root == "" {
			return nil, errors.Validation("STORAGE_LOCAL_ROOT is required for the localfs provider")
		}
		return localfs.New(root), nil

	case "gdrive":
		return newGDriveProvider()

	default:
		return nil, errors.Validationf("unknown storage provider: %s", provider)
	}
}

func newGDriveProvider() (Provider, error) {
	ctx := context.Background()

	clientID := os.Getenv("GDRIVE_CLIENT_ID")
	clientSecret := os.Getenv("GDRIVE_CLIENT_SECRET")
	refreshToken := os.Getenv("GDRIVE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.Validation("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required for the gdrive provider")
	}
	folderID := os.Getenv("GDRIVE_FOLDER_ID")

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: refreshToken}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return nil, errors.Wrap(err, "storage.gdrive", "failed to build drive service")
	}

	return gdrive.NewClient(srv, folderID), nil
}
