package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

// SnapshotVersion is written into every new snapshot.
const SnapshotVersion = 1

// SnapshotExt selects the snapshot format in LoadAny and SaveAny.
const SnapshotExt = ".cbor"

// Snapshot is a dump with the tag metadata read alongside it.
type Snapshot struct {
	Version     int       `cbor:"1,keyasint"`
	TagType     string    `cbor:"2,keyasint"`
	UID         []byte    `cbor:"3,keyasint,omitempty"`
	SystemBlock []byte    `cbor:"4,keyasint,omitempty"`
	Blocks      []byte    `cbor:"5,keyasint"`
	CreatedAt   time.Time `cbor:"6,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder: %v", err))
	}

	decMode, err = cbor.DecOptions{
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder: %v", err))
	}
}

// NewSnapshot captures store. id and sys may be nil when they were not read.
func NewSnapshot(store *srix.Store, id *srix.TagIdentity, sys *srix.SystemBlock, now time.Time) Snapshot {
	s := Snapshot{
		Version:   SnapshotVersion,
		TagType:   string(store.TagType()),
		Blocks:    store.Bytes(),
		CreatedAt: now.UTC(),
	}
	if id != nil {
		b := id.Bytes()
		s.UID = b[:]
	}
	if sys != nil {
		s.SystemBlock = append([]byte(nil), sys.Raw[:]...)
	}
	return s
}

// Store rebuilds the EEPROM image.
func (s Snapshot) Store() (*srix.Store, error) {
	t, err := srix.ParseTagType(s.TagType)
	if err != nil {
		return nil, &srix.StorageError{Op: "load", Err: err}
	}
	return srix.StoreFromBytes(t, s.Blocks)
}

// Identity decodes the recorded UID, if any.
func (s Snapshot) Identity() (srix.TagIdentity, bool) {
	if len(s.UID) == 0 {
		return srix.TagIdentity{}, false
	}
	id, err := srix.DecodeUID(s.UID)
	return id, err == nil
}

// EncodeSnapshot serializes s as canonical CBOR.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

// DecodeSnapshot parses CBOR produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version < 1 || s.Version > SnapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	return s, nil
}

// SaveSnapshot writes s to path.
func SaveSnapshot(path string, s Snapshot) error {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return &srix.StorageError{Path: path, Op: "write", Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &srix.StorageError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// LoadSnapshot reads a snapshot file.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, &srix.StorageError{Path: path, Op: "read", Err: err}
	}
	s, err := DecodeSnapshot(data)
	if err != nil {
		return Snapshot{}, &srix.StorageError{Path: path, Op: "load", Err: err}
	}
	return s, nil
}

// IsSnapshot reports whether path names a snapshot file.
func IsSnapshot(path string) bool {
	return strings.EqualFold(filepath.Ext(path), SnapshotExt)
}

// LoadAny loads a raw dump or a snapshot depending on the extension of
// path. A snapshot of another tag type is rejected.
func LoadAny(path string, t srix.TagType) (*srix.Store, error) {
	if !IsSnapshot(path) {
		return Load(path, t)
	}

	snap, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	store, err := snap.Store()
	if err != nil {
		return nil, withPath(err, path)
	}
	if store.TagType() != t {
		return nil, &srix.StorageError{
			Path: path,
			Op:   "load",
			Err:  fmt.Errorf("snapshot holds an %s image, expected %s", store.TagType(), t),
		}
	}
	return store, nil
}

// SaveAny writes a snapshot when path ends in .cbor and a raw dump otherwise.
func SaveAny(path string, store *srix.Store, id *srix.TagIdentity, sys *srix.SystemBlock, now time.Time) error {
	if IsSnapshot(path) {
		return SaveSnapshot(path, NewSnapshot(store, id, sys, now))
	}
	return Save(path, store)
}

func withPath(err error, path string) error {
	if se, ok := err.(*srix.StorageError); ok && se.Path == "" {
		se.Path = path
	}
	return err
}
