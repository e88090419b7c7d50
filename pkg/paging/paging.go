// Package paging normalizes zero-based page requests.
package paging

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

// ErrInvalidPage is returned for negative pages or out-of-range sizes.
var ErrInvalidPage = fmt.Errorf("%w: invalid page", fault.ErrInvalidArgument)

// Request is a validated page request.
type Request struct {
	Page int
	Size int
}

// Offset returns the number of rows to skip.
func (request Request) Offset() int {
	return request.Page * request.Size
}

// New validates a page request. A zero size selects DefaultSize.
func New(page int, size int) (Request, error) {
	if page < 0 {
		return Request{}, fmt.Errorf("%w: page must not be negative", ErrInvalidPage)
	}
	if size == 0 {
		size = DefaultSize
	}
	if size < 0 || size > MaxSize {
		return Request{}, fmt.Errorf("%w: page size must be between 1 and %d", ErrInvalidPage, MaxSize)
	}
	return Request{Page: page, Size: size}, nil
}

// Window returns the slice of items covered by the request.
func Window[T any](items []T, request Request) []T {
	start := request.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + request.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
