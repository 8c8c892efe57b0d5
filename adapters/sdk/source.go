package sdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxModuleBytes = 128 << 20

// Source is where the SDK module is loaded from
type Source interface {
	Location() string
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource loads the module from a remote origin
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Location returns the module URL
func (s *HTTPSource) Location() string {
	return s.URL
}

// Fetch downloads the module
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	code, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleBytes))
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("empty module")
	}
	return code, nil
}

// BytesSource serves a module already in memory
type BytesSource struct {
	Name string
	Code []byte
}

// Location returns the source name
func (s *BytesSource) Location() string {
	return s.Name
}

// Fetch returns the module bytes
func (s *BytesSource) Fetch(context.Context) ([]byte, error) {
	return s.Code, nil
}
