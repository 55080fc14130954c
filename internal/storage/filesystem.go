package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"toolgate/internal/models"
)

type FilesystemStorage struct {
	basePath string
}

func NewFilesystemStorage(basePath string) (*FilesystemStorage, error) {
	// Ensure the base path exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path %s: %w", basePath, err)
	}

	// Create credentials subdirectory
	credsPath := filepath.Join(basePath, "credentials")
	if err := os.MkdirAll(credsPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials path: %w", err)
	}

	return &FilesystemStorage{
		basePath: basePath,
	}, nil
}

func (f *FilesystemStorage) GetCredential(ctx context.Context, account string) (*models.Credential, error) {
	credPath := filepath.Join(f.basePath, "credentials", account+".json")

	data, err := os.ReadFile(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credential not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &cred, nil
}

func (f *FilesystemStorage) SaveCredential(ctx context.Context, account string, cred *models.Credential) error {
	credPath := filepath.Join(f.basePath, "credentials", account+".json")

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	// Bearer secrets, keep them out of group/world reach.
	if err := os.WriteFile(credPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}

	return nil
}

func (f *FilesystemStorage) CredentialExists(ctx context.Context, account string) (bool, error) {
	credPath := filepath.Join(f.basePath, "credentials", account+".json")

	_, err := os.Stat(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check credential file: %w", err)
	}

	return true, nil
}
