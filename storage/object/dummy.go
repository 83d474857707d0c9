package object

import (
	"context"
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
)

// DummyStorage keeps uploaded objects in memory. Test use only.
type DummyStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	SaveCalls   int
	DeleteCalls int
}

var _ core.FileStorage = (*DummyStorage)(nil) // interface compliance check

func NewDummyStorage() *DummyStorage {
	return &DummyStorage{objects: make(map[string][]byte)}
}

func (s *DummyStorage) Save(ctx context.Context, key string, upload core.Upload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SaveCalls++
	data, err := ioutil.ReadAll(upload.Content)
	if err != nil {
		return "", errors.Wrap(err, "reading upload")
	}
	s.objects[key] = data
	return "https://storage.local/" + key, nil
}

func (s *DummyStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DeleteCalls++
	delete(s.objects, key)
	return nil
}

// Object returns the stored content for key.
func (s *DummyStorage) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[key]
	return data, ok
}
