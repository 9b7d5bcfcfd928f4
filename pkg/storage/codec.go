package storage

import (
	"fmt"

	"github.com/golang/snappy"
)

func compress(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	return snappy.Encode(nil, data)
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	return out, nil
}
