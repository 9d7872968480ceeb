package imagestore

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Store backs up and restores filesystem images through an object
// store. Uploads are keyed `<prefix>/<name>/<uuid>.img` so pushes never
// overwrite each other and a name's history is one List away.
type Store struct {
	Objects ObjectStore
	Bucket  string
	Prefix  string
}

// Push uploads the image file under a fresh key for name and returns
// the key.
func (store *Store) Push(imagePath, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return "", fmt.Errorf("pushing image: invalid name `%s`", name)
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("pushing image `%s`: %w", imagePath, err)
	}
	defer file.Close()

	key := path.Join(store.Prefix, name, uuid.NewString()+".img")
	if err := store.Objects.PutObject(store.Bucket, key, file); err != nil {
		return "", fmt.Errorf("pushing image `%s` to key `%s`: %w", imagePath, key, err)
	}
	return key, nil
}

// Pull downloads the object at key into imagePath.
func (store *Store) Pull(key, imagePath string) error {
	body, err := store.Objects.GetObject(store.Bucket, key)
	if err != nil {
		return fmt.Errorf("pulling image from key `%s`: %w", key, err)
	}
	defer body.Close()

	file, err := os.OpenFile(imagePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("pulling image to `%s`: %w", imagePath, err)
	}

	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return fmt.Errorf("pulling image to `%s`: %w", imagePath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("pulling image to `%s`: %w", imagePath, err)
	}
	return nil
}

// List returns every stored key for name, or every key under the prefix
// when name is empty.
func (store *Store) List(name string) ([]string, error) {
	prefix := store.Prefix
	if name != "" {
		prefix = path.Join(store.Prefix, name) + "/"
	} else if prefix != "" {
		prefix += "/"
	}

	keys, err := store.Objects.ListObjects(store.Bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing images under `%s`: %w", prefix, err)
	}
	return keys, nil
}
