//go:build !tinygo && !unix

package hal

import (
	"fmt"
	"os"
)

func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty image: %w", os.ErrInvalid)
	}
	return data, nil, nil
}
