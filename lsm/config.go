// Package lsm implements the LSM Controller: the top-level engine owning
// the Write Buffer and the ordered list of levels, performing flush on
// overflow and cascading compaction across levels.
package lsm

import (
	"go.uber.org/zap"

	"github.com/intellect4all/lsmkv/common"
)

// Config holds the engine's tuning parameters. The page and entry sizes
// are fixed in the sstable package; N_buf, T, L_max, and C are
// configurable per database.
type Config struct {
	// DataDir is the database directory <data_root>/<db>/.
	DataDir string

	// BufferCapacity is N_buf, the Write Buffer's entry capacity.
	BufferCapacity int
	// FanOut is T, the number of runs admitted per level before compaction.
	FanOut int
	// MaxLevel is L_max, the deepest (final) level.
	MaxLevel int
	// CachePages is C, the Page Cache's capacity in pages.
	CachePages int

	Logger *zap.SugaredLogger
}

// DefaultConfig returns the stock parameter defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		BufferCapacity: 257,
		FanOut:         2,
		MaxLevel:       5,
		CachePages:     10,
		Logger:         common.NewLogger(),
	}
}
