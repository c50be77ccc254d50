package commands

import (
	"context"

	"github.com/doeshing/shai-remote/internal/app"
)

// ContainerSource returns the container built from the parsed global flags.
// It is called from RunE so --config and --model are honoured.
type ContainerSource func(ctx context.Context) (*app.Container, error)
