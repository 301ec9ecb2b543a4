// Package photo resolves the applicant photo binaries referenced by print
// requests when the dispatcher builds a provider bundle.
package photo

import (
	"context"
	"io"
)

// Source fetches one photo by the location recorded on the print request.
type Source interface {
	Fetch(ctx context.Context, location string) (io.ReadCloser, error)
}
