package worker

import "context"

// Publisher appends entries to relay streams
type Publisher interface {
	Add(ctx context.Context, stream string, values map[string]interface{}) error
}
