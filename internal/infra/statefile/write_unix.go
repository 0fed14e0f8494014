//go:build !windows

package statefile

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// writeAtomic fsyncs data to a temp file and renames it over path.
func writeAtomic(path string, data []byte, log zerolog.Logger) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug().Err(err).Msg("cleanup pending state file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write state data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace state file: %w", err)
	}
	return nil
}
