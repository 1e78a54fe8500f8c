package lsmcore

import (
	"log/slog"
	"os"

	"github.com/go-lsm/lsmcore/keys"
)

const (
	KiB = 1024
	MiB = KiB * 1024
)

// Default values, following LevelDB's own tunables.
var (
	DefaultNumLevels           = 7
	DefaultL0CompactionTrigger = 4
	DefaultL0SlowdownTrigger   = 8
	DefaultL0StopWritesTrigger = 12

	// DefaultTargetFileSize is the nominal size of an output file
	// produced by a compaction.
	DefaultTargetFileSize int64 = 2 * MiB

	// DefaultLevelSizeMultiplier is how much larger level N+1's byte
	// budget is than level N's, for N >= 1.
	DefaultLevelSizeMultiplier = 10.0

	// DefaultL1MaxBytes is MaxBytesForLevel(1).
	DefaultL1MaxBytes int64 = 10 * MiB

	// DefaultMaxMemCompactLevel bounds how deep PickLevelForMemTableOutput
	// will push a flushed memtable.
	DefaultMaxMemCompactLevel = 2

	// DefaultReadBytesPeriod is the sampling stride for RecordReadSample.
	DefaultReadBytesPeriod int64 = 1 * MiB

	// DefaultMaxManifestFileSize is the default Options.MaxManifestFileSize.
	DefaultMaxManifestFileSize int64 = 64 * MiB

	// minFileSeeks and seekBytesPerSeek implement allowed_seeks = max(100,
	// file_size / 16KiB).
	minFileSeeks     = 100
	seekBytesPerSeek = 16 * KiB
)

// Options holds the tunables for the version and compaction core.
// Unlike a full database's options, this does not carry block size,
// block cache size, WAL sync policy, or compression settings — those
// belong to collaborators outside this core's scope.
type Options struct {
	// Dir is the directory holding the MANIFEST and CURRENT files.
	Dir string

	// Comparator orders user keys. Its Name is persisted in the
	// MANIFEST and checked on every recovery.
	Comparator keys.Comparator

	// NumLevels is the number of levels in the tree, L0..NumLevels-1.
	NumLevels int

	// L0CompactionTrigger is the level-0 file count at or above which
	// compaction_score reaches 1 for level 0.
	L0CompactionTrigger int

	// L0SlowdownTrigger and L0StopWritesTrigger are reported to the
	// caller via NumLevelFiles(0); enforcement is external to this
	// core.
	L0SlowdownTrigger   int
	L0StopWritesTrigger int

	// TargetFileSize is the nominal output file size used to derive
	// kMaxGrandParentOverlapBytes (10x) and
	// ExpandedCompactionByteSizeLimit (25x).
	TargetFileSize int64

	// LevelSizeMultiplier is the per-level byte budget growth factor
	// for levels >= 2.
	LevelSizeMultiplier float64

	// L1MaxBytes is MaxBytesForLevel(1); higher levels multiply this
	// by LevelSizeMultiplier per level.
	L1MaxBytes int64

	// MaxMemCompactLevel bounds PickLevelForMemTableOutput.
	MaxMemCompactLevel int

	// ReadBytesPeriod is the sampling stride for RecordReadSample.
	ReadBytesPeriod int64

	// MaxManifestFileSize is the MANIFEST size at or above which Recover
	// reports saveManifest = true. A recovered MANIFEST is never reused
	// for appending; the next LogAndApply always starts a new one.
	MaxManifestFileSize int64

	// Logger receives structured diagnostics from the version set,
	// compaction picker, and manifest writer.
	Logger *slog.Logger
}

// DefaultOptions returns an Options populated with the core's default
// tunables and the bytewise comparator.
func DefaultOptions() *Options {
	return &Options{
		Comparator:          keys.BytewiseComparator,
		NumLevels:           DefaultNumLevels,
		L0CompactionTrigger: DefaultL0CompactionTrigger,
		L0SlowdownTrigger:   DefaultL0SlowdownTrigger,
		L0StopWritesTrigger: DefaultL0StopWritesTrigger,
		TargetFileSize:      DefaultTargetFileSize,
		LevelSizeMultiplier: DefaultLevelSizeMultiplier,
		L1MaxBytes:          DefaultL1MaxBytes,
		MaxMemCompactLevel:  DefaultMaxMemCompactLevel,
		ReadBytesPeriod:     DefaultReadBytesPeriod,
		MaxManifestFileSize: DefaultMaxManifestFileSize,
		Logger:              DefaultLogger(),
	}
}

// Validate checks that the options are self-consistent.
func (o *Options) Validate() error {
	if o.Dir == "" {
		return ErrInvalidDirectory
	}
	if o.NumLevels <= 0 || o.NumLevels > 20 {
		return ErrInvalidNumLevels
	}
	if o.L0CompactionTrigger <= 0 {
		return ErrInvalidL0CompactionTrigger
	}
	if o.L0StopWritesTrigger <= o.L0CompactionTrigger {
		return ErrInvalidL0StopWritesTrigger
	}
	if o.TargetFileSize <= 0 {
		return ErrInvalidTargetFileSize
	}
	return nil
}

// Clone returns a shallow copy of the options.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	c := *o
	return &c
}

// MaxGrandParentOverlapBytes is kMaxGrandParentOverlapBytes: the
// overlap threshold that triggers both IsTrivialMove's rejection and
// ShouldStopBefore's new-output-file decision.
func (o *Options) MaxGrandParentOverlapBytes() int64 {
	return 10 * o.TargetFileSize
}

// ExpandedCompactionByteSizeLimit bounds how large inputs[0] may grow
// during SetupOtherInputs's expansion attempt.
func (o *Options) ExpandedCompactionByteSizeLimit() int64 {
	return 25 * o.TargetFileSize
}

// MaxFileSizeForLevel bounds CompactRange's inputs[0] for level >= 1,
// so a manually triggered range compaction can't balloon into one
// giant output file.
func (o *Options) MaxFileSizeForLevel(level int) int64 {
	return o.TargetFileSize
}

// MaxBytesForLevel returns MaxBytesForLevel(L): 0 for level 0 (file
// count governs L0 instead), L1MaxBytes at level 1, and L1MaxBytes
// scaled by LevelSizeMultiplier per level thereafter.
func (o *Options) MaxBytesForLevel(level int) int64 {
	if level == 0 {
		return 0
	}
	result := float64(o.L1MaxBytes)
	for i := 1; i < level; i++ {
		result *= o.LevelSizeMultiplier
	}
	return int64(result)
}

// AllowedSeeks computes the initial seek budget for a file of the
// given size: max(100, file_size/16KiB).
func AllowedSeeks(fileSize int64) int {
	n := int(fileSize / int64(seekBytesPerSeek))
	if n < minFileSeeks {
		return minFileSeeks
	}
	return n
}

func getLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// DefaultLogger logs at Warn and above.
func DefaultLogger() *slog.Logger {
	return getLogger(slog.LevelWarn)
}

// DebugLogger logs everything; useful in tests.
func DebugLogger() *slog.Logger {
	return getLogger(slog.LevelDebug)
}
