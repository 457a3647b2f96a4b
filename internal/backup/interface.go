package backup

import "context"

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/mattjoyce/satchel/internal/backup Platform,Confirmer,SpaceProbe

// Platform is the host platform as seen by a restore.
type Platform interface {
	IsInstalled() bool
	PostInstall(ctx context.Context, domain string) error
	Regenerate(ctx context.Context) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// SpaceProbe reports free bytes on the volume holding path.
type SpaceProbe interface {
	FreeSpace(path string) (uint64, error)
}
